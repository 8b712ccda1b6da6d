package main

const (
	StatusHealthy = "healthy"

	MsgMethodNotAllowed = "Method not allowed"
	MsgNotFound         = "Not found"
	MsgInternalError    = "Internal server error"

	// TimestampLayout is how history records are stamped, in local time.
	TimestampLayout = "2006-01-02 15:04:05"
)
