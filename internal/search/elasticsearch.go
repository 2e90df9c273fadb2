package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

func (c *ElasticClient) index() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// feedbackMapping keeps identifiers exact so term queries match them verbatim
var feedbackMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"feedback_uid": map[string]interface{}{"type": "keyword"},
			"event":        map[string]interface{}{"type": "keyword"},
			"kind":         map[string]interface{}{"type": "keyword"},
			"user_uid":     map[string]interface{}{"type": "keyword"},
			"type":         map[string]interface{}{"type": "keyword"},
			"feedback":     map[string]interface{}{"type": "text"},
			"time":         map[string]interface{}{"type": "long"},
		},
	},
}

// EnsureIndex creates the feedback index with its mapping when it does not
// exist yet
func (c *ElasticClient) EnsureIndex(ctx context.Context) error {
	index := c.index()

	exists, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrapf(err, "failed to check index %s", index)
	}
	exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(feedbackMapping)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index mapping")
	}

	log.Info().Str("index", index).Msg("Creating feedback index")
	res, err := esapi.IndicesCreateRequest{Index: index, Body: bytes.NewReader(body)}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrapf(err, "failed to create index %s", index)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		// another instance won the race
		if bytes.Contains(raw, []byte("resource_already_exists_exception")) {
			return nil
		}
		return responseError("create index", bytes.NewReader(raw))
	}

	return nil
}

// FeedbackDocument is the indexed form of a published notification
func FeedbackDocument(event models.FeedbackEvent) map[string]interface{} {
	return map[string]interface{}{
		"feedback_uid": event.FeedbackUID,
		"event":        event.Event,
		"kind":         string(event.Kind),
		"user_uid":     event.UserUID,
		"type":         event.Type,
		"feedback":     event.Feedback,
		"time":         event.Time,
	}
}

// IndexFeedback indexes a notification under its feedback uid
func (c *ElasticClient) IndexFeedback(ctx context.Context, event models.FeedbackEvent) error {
	doc, err := json.Marshal(FeedbackDocument(event))
	if err != nil {
		return errors.Wrap(err, "failed to marshal feedback document")
	}

	req := esapi.IndexRequest{
		Index:      c.index(),
		DocumentID: event.FeedbackUID,
		Body:       bytes.NewReader(doc),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index", res.Body)
	}

	log.Debug().Str("feedback_uid", event.FeedbackUID).Msg("feedback indexed")
	return nil
}

// UserFeedbackQuery builds the search body for a user's latest notifications
func UserFeedbackQuery(userUID string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"sort": []interface{}{
			map[string]interface{}{"time": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{"user_uid": userUID},
		},
	}
}

// SearchFeedback returns the user's most recent notifications, newest first
func (c *ElasticClient) SearchFeedback(ctx context.Context, userUID string, size int) ([]map[string]interface{}, error) {
	query, err := json.Marshal(UserFeedbackQuery(userUID, size))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.index()},
		Body:  bytes.NewReader(query),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search", res.Body)
	}

	return decodeHits(res.Body)
}

func decodeHits(body io.Reader) ([]map[string]interface{}, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if hit.Source != nil {
			docs = append(docs, hit.Source)
		}
	}
	return docs, nil
}

func responseError(op string, body io.Reader) error {
	var e map[string]interface{}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
