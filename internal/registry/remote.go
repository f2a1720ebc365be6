package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/version"
)

// Fetcher loads chain names from a remote JSON document of the form
// {"Kusama": {"2000": "Karura", ...}, ...}.
type Fetcher struct {
	log  logrus.FieldLogger
	http *http.Client
}

// NewFetcher creates a Fetcher. A zero timeout defaults to 10s.
func NewFetcher(log logrus.FieldLogger, timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Fetcher{
		log:  log.WithField("component", "registry"),
		http: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves and parses the document at url.
func (f *Fetcher) Fetch(
	ctx context.Context,
	url string,
) (map[string]map[uint32]string, error) {
	var doc map[string]map[string]string

	if err := f.getJSON(ctx, url, &doc); err != nil {
		return nil, fmt.Errorf("fetching chain names: %w", err)
	}

	tables := make(map[string]map[uint32]string, len(doc))

	for relay, chains := range doc {
		entries := make(map[uint32]string, len(chains))

		for key, name := range chains {
			id, err := strconv.ParseUint(key, 10, 32)
			if err != nil {
				return nil, fmt.Errorf(
					"parsing para id %q for relay %s: %w", key, relay, err,
				)
			}

			entries[uint32(id)] = name
		}

		tables[relay] = entries
	}

	return tables, nil
}

// FetchInto fetches the document and merges it into r.
func (f *Fetcher) FetchInto(ctx context.Context, url string, r *Registry) error {
	tables, err := f.Fetch(ctx, url)
	if err != nil {
		return err
	}

	r.Merge(tables)

	count := 0
	for _, chains := range tables {
		count += len(chains)
	}

	f.log.WithFields(logrus.Fields{
		"url":    url,
		"chains": count,
	}).Info("Loaded remote chain names")

	return nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("executing request for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf(
			"unexpected status %d from %s: %s",
			resp.StatusCode,
			url,
			string(body),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return nil
}
