package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorMessage unwraps err to a string safe for JSON responses; nil gives "".
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
