package utils

// CustomError is the body of every error response: {"code":...,"message":...}.
type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
