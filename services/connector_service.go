package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/utils/crypto"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConnectorService manages external import sources: registration with
// encrypted credentials, incremental syncs and webhook pushes.
type ConnectorService struct {
	db         *gorm.DB
	pipeline   *PipelineService
	secret     string // server-side secret credentials are encrypted under
	httpClient *http.Client
}

// NewConnectorService creates a new connector service
func NewConnectorService(db *gorm.DB, pipeline *PipelineService, secret string) *ConnectorService {
	return &ConnectorService{
		db:       db,
		pipeline: pipeline,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ConnectorCredentials is the decrypted credential payload. Which fields
// are required depends on the provider.
type ConnectorCredentials struct {
	Token       string `json:"token,omitempty"`        // notion, readwise
	ConsumerKey string `json:"consumer_key,omitempty"` // pocket
	AccessToken string `json:"access_token,omitempty"` // pocket
	FeedURL     string `json:"feed_url,omitempty"`     // rss
}

func validProvider(p model.ConnectorProvider) bool {
	switch p {
	case model.ConnectorProviderNotion, model.ConnectorProviderReadwise,
		model.ConnectorProviderPocket, model.ConnectorProviderRSS:
		return true
	}
	return false
}

// CreateConnector registers a source and stores its credentials encrypted
// under a per-connector key derived from the server secret.
func (s *ConnectorService) CreateConnector(ctx context.Context, userID uint, provider model.ConnectorProvider, label string, creds ConnectorCredentials) (*model.Connector, error) {
	if !validProvider(provider) {
		return nil, fmt.Errorf("unknown connector provider %q", provider)
	}
	if provider == model.ConnectorProviderRSS {
		if _, err := url.ParseRequestURI(creds.FeedURL); err != nil {
			return nil, fmt.Errorf("rss connector requires a valid feed_url")
		}
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate credential salt: %w", err)
	}
	key := crypto.DeriveKey(s.secret, salt)
	encrypted, nonce, err := crypto.EncryptSecret(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	connector := &model.Connector{
		UserID:               userID,
		Provider:             provider,
		Label:                label,
		EncryptedCredentials: encrypted,
		CredentialsNonce:     nonce,
		CredentialsSalt:      salt,
	}
	if err := s.db.WithContext(ctx).Create(connector).Error; err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	log.Printf("Connector: registered %s connector %d for user %d", provider, connector.ID, userID)
	return connector, nil
}

// ListConnectors returns a user's registered sources.
func (s *ConnectorService) ListConnectors(ctx context.Context, userID uint) ([]model.Connector, error) {
	var connectors []model.Connector
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&connectors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	return connectors, nil
}

// GetConnector loads one connector, scoped to its owner.
func (s *ConnectorService) GetConnector(ctx context.Context, userID, connectorID uint) (*model.Connector, error) {
	var connector model.Connector
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", connectorID, userID).First(&connector).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("connector %d not found", connectorID)
		}
		return nil, fmt.Errorf("failed to load connector %d: %w", connectorID, err)
	}
	return &connector, nil
}

// DeleteConnector soft-deletes a connector. Imported contents stay.
func (s *ConnectorService) DeleteConnector(ctx context.Context, userID, connectorID uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", connectorID, userID).Delete(&model.Connector{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete connector %d: %w", connectorID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connector %d not found", connectorID)
	}
	return nil
}

// decryptCredentials reconstructs the plaintext credentials for a sync.
func (s *ConnectorService) decryptCredentials(connector *model.Connector) (*ConnectorCredentials, error) {
	key := crypto.DeriveKey(s.secret, connector.CredentialsSalt)
	plaintext, err := crypto.DecryptSecret(connector.EncryptedCredentials, connector.CredentialsNonce, key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt connector %d credentials: %w", connector.ID, err)
	}

	var creds ConnectorCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode connector %d credentials: %w", connector.ID, err)
	}
	return &creds, nil
}

// ImportedItem is one article fetched from a provider.
type ImportedItem struct {
	Title     string
	Body      string
	FileType  model.FileType
	SourceURL string
}

// Sync fetches new items since the connector's cursor, creates imported
// content rows and enqueues a pipeline run for each. Called from the
// sync_connector job handler.
func (s *ConnectorService) Sync(ctx context.Context, connectorID uint, report ProgressFunc) (map[string]interface{}, error) {
	var connector model.Connector
	if err := s.db.WithContext(ctx).First(&connector, connectorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFatalError(fmt.Errorf("connector %d no longer exists", connectorID))
		}
		return nil, fmt.Errorf("failed to load connector %d: %w", connectorID, err)
	}

	creds, err := s.decryptCredentials(&connector)
	if err != nil {
		// Wrong secret or corrupted row; retrying cannot help.
		return nil, NewFatalError(err)
	}

	report(10, fmt.Sprintf("fetching from %s", connector.Provider))
	items, nextCursor, err := s.fetchItems(ctx, &connector, creds)
	if err != nil {
		s.db.WithContext(ctx).Model(&model.Connector{}).Where("id = ?", connector.ID).
			Update("last_error", err.Error())
		return nil, err
	}

	imported := 0
	for i, item := range items {
		report(20+i*70/max(len(items), 1), fmt.Sprintf("importing %d of %d", i+1, len(items)))

		content := &model.Content{
			UserID:      connector.UserID,
			Title:       item.Title,
			Type:        model.ContentTypeImport,
			FileType:    item.FileType,
			Body:        item.Body,
			Status:      model.ContentStatusUploaded,
			ConnectorID: &connector.ID,
		}
		if err := s.db.WithContext(ctx).Create(content).Error; err != nil {
			log.Printf("Connector: failed to create imported content from %s: %v", connector.Provider, err)
			continue
		}
		if _, err := s.pipeline.EnqueuePipeline(ctx, content); err != nil {
			log.Printf("Connector: failed to enqueue pipeline for imported content %d: %v", content.ID, err)
			continue
		}
		imported++
	}

	now := time.Now()
	s.db.WithContext(ctx).Model(&model.Connector{}).Where("id = ?", connector.ID).Updates(map[string]interface{}{
		"cursor_token":   nextCursor,
		"last_synced_at": now,
		"last_error":     "",
	})

	return map[string]interface{}{
		"fetched":  len(items),
		"imported": imported,
		"provider": string(connector.Provider),
	}, nil
}

// ProcessWebhook turns a pushed payload into one imported content. The
// payload carries the document inline, so no provider round trip is needed.
func (s *ConnectorService) ProcessWebhook(ctx context.Context, connectorID uint, payload datatypes.JSONMap, report ProgressFunc) (map[string]interface{}, error) {
	var connector model.Connector
	if err := s.db.WithContext(ctx).First(&connector, connectorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFatalError(fmt.Errorf("connector %d no longer exists", connectorID))
		}
		return nil, fmt.Errorf("failed to load connector %d: %w", connectorID, err)
	}

	title, _ := payload["title"].(string)
	body, _ := payload["body"].(string)
	if strings.TrimSpace(body) == "" {
		return nil, NewFatalError(fmt.Errorf("webhook payload for connector %d has no body", connectorID))
	}
	if title == "" {
		title = fmt.Sprintf("%s import", connector.Provider)
	}

	fileType := model.FileTypeHTML
	if format, _ := payload["format"].(string); format != "" {
		switch model.FileType(format) {
		case model.FileTypeHTML, model.FileTypeMD, model.FileTypeTXT:
			fileType = model.FileType(format)
		}
	}

	report(40, "creating imported content")
	content := &model.Content{
		UserID:      connector.UserID,
		Title:       title,
		Type:        model.ContentTypeImport,
		FileType:    fileType,
		Body:        body,
		Status:      model.ContentStatusUploaded,
		ConnectorID: &connector.ID,
	}
	if err := s.db.WithContext(ctx).Create(content).Error; err != nil {
		return nil, fmt.Errorf("failed to create webhook content: %w", err)
	}

	report(70, "enqueueing pipeline")
	result, err := s.pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"content_id": content.ID,
		"run_id":     result.RunID,
	}, nil
}

// fetchItems dispatches to the provider-specific fetcher.
func (s *ConnectorService) fetchItems(ctx context.Context, connector *model.Connector, creds *ConnectorCredentials) ([]ImportedItem, string, error) {
	switch connector.Provider {
	case model.ConnectorProviderReadwise:
		return s.fetchReadwise(ctx, creds.Token, connector.CursorToken)
	case model.ConnectorProviderPocket:
		return s.fetchPocket(ctx, creds.ConsumerKey, creds.AccessToken, connector.CursorToken)
	case model.ConnectorProviderRSS:
		return s.fetchRSS(ctx, creds.FeedURL)
	case model.ConnectorProviderNotion:
		return s.fetchNotion(ctx, creds.Token, connector.CursorToken)
	}
	return nil, "", NewFatalError(fmt.Errorf("unknown connector provider %q", connector.Provider))
}

// readwise export API: one call per sync, cursor is the updatedAfter stamp.
type readwiseExportResponse struct {
	Results []struct {
		Title      string `json:"title"`
		SourceURL  string `json:"source_url"`
		Highlights []struct {
			Text string `json:"text"`
			Note string `json:"note"`
		} `json:"highlights"`
	} `json:"results"`
}

func (s *ConnectorService) fetchReadwise(ctx context.Context, token, cursor string) ([]ImportedItem, string, error) {
	endpoint := "https://readwise.io/api/v2/export/"
	if cursor != "" {
		endpoint += "?updatedAfter=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build readwise request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+token)

	var resp readwiseExportResponse
	if err := s.doProviderRequest(req, &resp); err != nil {
		return nil, "", err
	}

	var items []ImportedItem
	for _, r := range resp.Results {
		var body strings.Builder
		for _, h := range r.Highlights {
			body.WriteString("> ")
			body.WriteString(h.Text)
			body.WriteString("\n")
			if h.Note != "" {
				body.WriteString(h.Note)
				body.WriteString("\n")
			}
			body.WriteString("\n")
		}
		if body.Len() == 0 {
			continue
		}
		items = append(items, ImportedItem{
			Title:     r.Title,
			Body:      body.String(),
			FileType:  model.FileTypeMD,
			SourceURL: r.SourceURL,
		})
	}
	return items, time.Now().UTC().Format(time.RFC3339), nil
}

type pocketGetResponse struct {
	Since int64 `json:"since"`
	List  map[string]struct {
		ResolvedTitle string `json:"resolved_title"`
		ResolvedURL   string `json:"resolved_url"`
		Excerpt       string `json:"excerpt"`
	} `json:"list"`
}

func (s *ConnectorService) fetchPocket(ctx context.Context, consumerKey, accessToken, cursor string) ([]ImportedItem, string, error) {
	form := url.Values{
		"consumer_key": {consumerKey},
		"access_token": {accessToken},
		"detailType":   {"simple"},
	}
	if cursor != "" {
		form.Set("since", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://getpocket.com/v3/get", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build pocket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp pocketGetResponse
	if err := s.doProviderRequest(req, &resp); err != nil {
		return nil, "", err
	}

	var items []ImportedItem
	for _, entry := range resp.List {
		if entry.Excerpt == "" {
			continue
		}
		items = append(items, ImportedItem{
			Title:     entry.ResolvedTitle,
			Body:      entry.Excerpt,
			FileType:  model.FileTypeTXT,
			SourceURL: entry.ResolvedURL,
		})
	}
	return items, fmt.Sprintf("%d", resp.Since), nil
}

// rssFeed covers the subset of RSS 2.0 the importer reads.
type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (s *ConnectorService) fetchRSS(ctx context.Context, feedURL string) ([]ImportedItem, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build rss request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("rss fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("rss fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read rss feed: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, "", NewFatalError(fmt.Errorf("malformed rss feed: %w", err))
	}

	var items []ImportedItem
	for _, entry := range feed.Channel.Items {
		if entry.Description == "" {
			continue
		}
		items = append(items, ImportedItem{
			Title:     entry.Title,
			Body:      entry.Description,
			FileType:  model.FileTypeHTML,
			SourceURL: entry.Link,
		})
	}
	return items, "", nil
}

type notionSearchResponse struct {
	Results []struct {
		URL        string `json:"url"`
		Properties map[string]struct {
			Title []struct {
				PlainText string `json:"plain_text"`
			} `json:"title"`
		} `json:"properties"`
	} `json:"results"`
	NextCursor string `json:"next_cursor"`
}

// fetchNotion imports page titles with backlinks. Notion page bodies need a
// block-tree walk per page; the imported stub still gets embedded so pages
// show up in search.
func (s *ConnectorService) fetchNotion(ctx context.Context, token, cursor string) ([]ImportedItem, string, error) {
	body := map[string]interface{}{
		"filter":    map[string]string{"property": "object", "value": "page"},
		"page_size": 50,
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build notion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.notion.com/v1/search", strings.NewReader(string(encoded)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", "2022-06-28")
	req.Header.Set("Content-Type", "application/json")

	var resp notionSearchResponse
	if err := s.doProviderRequest(req, &resp); err != nil {
		return nil, "", err
	}

	var items []ImportedItem
	for _, page := range resp.Results {
		title := ""
		for _, prop := range page.Properties {
			for _, t := range prop.Title {
				title += t.PlainText
			}
			if title != "" {
				break
			}
		}
		if title == "" {
			continue
		}
		items = append(items, ImportedItem{
			Title:     title,
			Body:      fmt.Sprintf("# %s\n\n[Open in Notion](%s)\n", title, page.URL),
			FileType:  model.FileTypeMD,
			SourceURL: page.URL,
		})
	}
	return items, resp.NextCursor, nil
}

// doProviderRequest runs a provider HTTP call and decodes the JSON body.
// 4xx responses are fatal (bad credentials don't fix themselves); 5xx and
// transport errors stay retriable.
func (s *ConnectorService) doProviderRequest(req *http.Request, result interface{}) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("provider rate limit (429)")
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return NewFatalError(fmt.Errorf("provider rejected request (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
