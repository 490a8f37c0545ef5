// Package carddav implements the contact directory against a CardDAV address
// book. One addressbook-query REPORT fetches candidate vCards; the best match
// is the contact sharing the longest digit suffix with the caller number.
package carddav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/config"
	"github.com/spec-kit/callbridge/internal/directory"
	"github.com/spec-kit/callbridge/internal/domain"
)

// Client queries one CardDAV collection.
type Client struct {
	cfg    config.CardDAVConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the client.
func New(cfg config.CardDAVConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.MinSuffixDigits <= 0 {
		cfg.MinSuffixDigits = 6
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger}
}

const addressbookQuery = `<?xml version="1.0" encoding="utf-8"?>
<C:addressbook-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <D:prop>
    <C:address-data/>
  </D:prop>
</C:addressbook-query>`

type multistatus struct {
	Responses []struct {
		Propstats []struct {
			Prop struct {
				AddressData string `xml:"urn:ietf:params:xml:ns:carddav address-data"`
			} `xml:"DAV: prop"`
		} `xml:"DAV: propstat"`
	} `xml:"DAV: response"`
}

// Lookup fetches the address book and returns the best-matching contact, or
// nil when nothing reaches the minimum suffix length.
func (c *Client) Lookup(ctx context.Context, number string) (*domain.CallerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "REPORT", c.cfg.BaseURL, bytes.NewReader([]byte(addressbookQuery)))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("carddav: REPORT returned %d", resp.StatusCode)
	}

	var status multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("carddav: decode multistatus: %w", err)
	}

	var best *domain.CallerInfo
	bestLen := 0
	for _, response := range status.Responses {
		for _, propstat := range response.Propstats {
			if propstat.Prop.AddressData == "" {
				continue
			}
			info := c.parseVCard(propstat.Prop.AddressData)
			for _, candidate := range info.PhoneNumbers {
				if n := directory.SuffixMatch(candidate, number); n >= c.cfg.MinSuffixDigits && n > bestLen {
					matched := info
					best, bestLen = &matched, n
				}
			}
		}
	}
	if best != nil {
		c.logger.Info("caller identified",
			zap.String("number", number),
			zap.String("name", best.Name),
			zap.Int("matched_digits", bestLen))
	}
	return best, nil
}

// parseVCard extracts the fields the engine cares about: FN, ORG, TEL and the
// routing projects encoded as prefixed CATEGORIES entries.
func (c *Client) parseVCard(card string) domain.CallerInfo {
	var info domain.CallerInfo
	for _, rawLine := range strings.Split(card, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		sep := strings.Index(line, ":")
		if sep < 0 {
			continue
		}
		name := strings.ToUpper(line[:sep])
		value := line[sep+1:]
		// Parameters like TEL;TYPE=work are part of the property name.
		if idx := strings.Index(name, ";"); idx >= 0 {
			name = name[:idx]
		}
		switch name {
		case "FN":
			info.Name = value
		case "ORG":
			info.CompanyName = strings.TrimSuffix(value, ";")
		case "TEL":
			if value != "" {
				info.PhoneNumbers = append(info.PhoneNumbers, value)
			}
		case "KIND":
			info.IsCompany = strings.EqualFold(value, "org")
		case "CATEGORIES":
			for _, category := range strings.Split(value, ",") {
				category = strings.TrimSpace(category)
				if projectID, ok := strings.CutPrefix(category, c.cfg.ProjectCategoryPrefix); ok && projectID != "" {
					info.ProjectIDs = append(info.ProjectIDs, projectID)
				}
			}
		}
	}
	return info
}
