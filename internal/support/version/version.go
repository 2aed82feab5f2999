// Package version — имя и версия сборки. Version подменяется при сборке:
//
//	go build -ldflags "-X telegram-smsbot/internal/support/version.Version=1.2.3" ./cmd/smsbot
package version

var (
	Name    = "telegram-smsbot"
	Version = "dev"
)
