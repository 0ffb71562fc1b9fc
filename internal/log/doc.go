// Package log provides slog loggers that sanitize their output.
//
// The SecureHandler wraps a text or JSON handler and:
//   - masks attributes whose key names a credential (password, token, secret)
//   - masks values that look like bearer tokens, JWTs or private keys
//   - hides the password of URLs with userinfo, such as SOCKS5 proxy URLs
//   - renders []byte attributes, such as raw probe responses, as bounded hex
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Debug("probe answered", "host", host, "port", port, "response", payload)
//	slog.SetDefault(logger)
package log
