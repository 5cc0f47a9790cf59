package model

type contextKey string

const (
	ContextAppVersion contextKey = "appVersion"
	ContextJobID      contextKey = "jobID"
)
