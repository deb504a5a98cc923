package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown of the server and the job scheduler.
var ShutdownTimeout = 15 * time.Second
