package sim

import (
	"fmt"
	"os"
	"strings"
)

// netrcCredentials extracts login/password for host from a netrc file.
// Only the token triples this tool needs are understood; macdef blocks
// are not supported.
func netrcCredentials(path, host string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read netrc %s: %w", path, err)
	}

	var (
		login    string
		password string
		matching bool
	)
	tokens := strings.Fields(string(data))
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "machine":
			if i+1 >= len(tokens) {
				return "", "", fmt.Errorf("netrc %s: dangling machine token", path)
			}
			if matching && login != "" {
				return login, password, nil
			}
			i++
			matching = tokens[i] == host
			login, password = "", ""
		case "default":
			if matching && login != "" {
				return login, password, nil
			}
			matching = true
			login, password = "", ""
		case "login":
			if i+1 < len(tokens) && matching {
				login = tokens[i+1]
			}
			i++
		case "password":
			if i+1 < len(tokens) && matching {
				password = tokens[i+1]
			}
			i++
		}
	}
	if matching && login != "" {
		return login, password, nil
	}
	return "", "", fmt.Errorf("netrc %s: no entry for host %s", path, host)
}
