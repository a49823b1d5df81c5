package httpserver

import "time"

// ShutdownTimeout bounds how long a graceful shutdown may drain before the
// process gives up and exits.
var ShutdownTimeout = 10 * time.Second
