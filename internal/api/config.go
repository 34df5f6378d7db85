package api

// Config holds server configuration.
type Config struct {
	Port           int
	DBPath         string
	AllowedOrigins []string // CORS allowed origins (empty = allow all)
	DefaultOwner   string   // Owner id assumed when X-Owner-ID is absent
}
