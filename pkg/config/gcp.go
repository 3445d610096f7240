package config

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions picks explicit credentials for Google clients. Inline JSON
// wins over a credentials file; with neither, clients fall back to
// application default credentials (workload identity in GKE).
func (g GCPConfig) ClientOptions() []option.ClientOption {
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(g.ApplicationCredentials)}
	}
	return nil
}
