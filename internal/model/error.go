package model

// AppError is the common error payload carried by every typed error in this
// tool. Code and Stage identify the failure class and the pipeline stage that
// produced it.
type AppError struct {
	Code    string
	Message string
	Stage   string

	URL     string
	Snippet string // <= 200 chars recommended
	Hint    string
}
