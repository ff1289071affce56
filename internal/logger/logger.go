package logger

import "go.uber.org/zap"

// New builds the process logger. Development mode logs at debug level in
// console format; everything else uses the JSON production config.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
