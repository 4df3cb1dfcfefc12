package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
)

// LoadProxies reads PROXY{n}, PORT{n}, USERNAME{n} and PASSWORD{n} for
// n in 1..count. Values from envFile win over the process environment; a
// missing envFile is not an error.
func LoadProxies(envFile string, count int) ([]Proxy, error) {
	env := map[string]string{}
	if envFile != "" {
		read, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
		if read != nil {
			env = read
		}
	}

	lookup := func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	var proxies []Proxy
	for i := 1; i <= count; i++ {
		host := lookup(fmt.Sprintf("PROXY%d", i))
		if host == "" {
			continue
		}
		proxies = append(proxies, Proxy{
			Host:     host,
			Port:     lookup(fmt.Sprintf("PORT%d", i)),
			Username: lookup(fmt.Sprintf("USERNAME%d", i)),
			Password: lookup(fmt.Sprintf("PASSWORD%d", i)),
		})
	}
	return proxies, nil
}

// SeedUserAgents returns the user agents kept in store, filling an empty
// store with defaults first so the file carries them on the next run.
func SeedUserAgents(store *buffer.JSONStore[string], defaults []string) ([]string, error) {
	err := store.Update(func(items []string) ([]string, error) {
		if len(items) > 0 {
			return items, nil
		}
		return append(items, defaults...), nil
	})
	if err != nil {
		return nil, fmt.Errorf("seeding user agents: %w", err)
	}
	return store.Snapshot(), nil
}
