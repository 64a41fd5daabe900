package source_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"linktracker/internal/domain"
	"linktracker/internal/source"
)

const questionJSON = `{
	"items": [
		{
			"title": "How to poll efficiently?",
			"owner": {"display_name": "asker"},
			"creation_date": 1743535001,
			"body": "<p>Question body</p>"
		}
	]
}`

const emptyItemsJSON = `{"items": []}`

func TestStackOverflowFetchQuestionOnly(t *testing.T) {
	transport := &mockTransport{routes: map[string]mockResponse{
		"/questions/123":          {status: http.StatusOK, body: questionJSON},
		"/questions/123/answers":  {status: http.StatusOK, body: emptyItemsJSON},
		"/questions/123/comments": {status: http.StatusOK, body: emptyItemsJSON},
	}}
	client := source.NewStackOverflowClient(transport, discardLogger())

	got, err := client.Fetch(context.Background(),
		"https://stackoverflow.com/questions/123/how-to-poll", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &domain.ActivitySnapshot{
		Marker:  "2025-04-01 19:16:41",
		Author:  "asker",
		Title:   "How to poll efficiently?",
		Preview: "<p>Question body</p>",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStackOverflowFetchNewerAnswerWins(t *testing.T) {
	answerJSON := `{
		"items": [
			{
				"owner": {"display_name": "answerer"},
				"creation_date": 1743621401,
				"body": "<p>Answer body</p>"
			}
		]
	}`

	transport := &mockTransport{routes: map[string]mockResponse{
		"/questions/123":          {status: http.StatusOK, body: questionJSON},
		"/questions/123/answers":  {status: http.StatusOK, body: answerJSON},
		"/questions/123/comments": {status: http.StatusOK, body: emptyItemsJSON},
	}}
	client := source.NewStackOverflowClient(transport, discardLogger())

	got, err := client.Fetch(context.Background(),
		"https://stackoverflow.com/questions/123", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &domain.ActivitySnapshot{
		Marker:  "2025-04-02 19:16:41",
		Author:  "answerer",
		Title:   "How to poll efficiently?",
		Preview: "<p>Answer body</p>",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStackOverflowFetchOlderActivityDoesNotWin(t *testing.T) {
	staleCommentJSON := `{
		"items": [
			{
				"owner": {"display_name": "commenter"},
				"creation_date": 1743000000,
				"body": "old comment"
			}
		]
	}`

	transport := &mockTransport{routes: map[string]mockResponse{
		"/questions/123":          {status: http.StatusOK, body: questionJSON},
		"/questions/123/answers":  {status: http.StatusOK, body: emptyItemsJSON},
		"/questions/123/comments": {status: http.StatusOK, body: staleCommentJSON},
	}}
	client := source.NewStackOverflowClient(transport, discardLogger())

	got, err := client.Fetch(context.Background(),
		"https://stackoverflow.com/questions/123", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Author != "asker" {
		t.Fatalf("expected question owner to stay latest, got %q", got.Author)
	}
}

func TestStackOverflowFetchQuestionNotFound(t *testing.T) {
	transport := &mockTransport{routes: map[string]mockResponse{
		"/questions/999": {status: http.StatusOK, body: emptyItemsJSON},
	}}
	client := source.NewStackOverflowClient(transport, discardLogger())

	_, err := client.Fetch(context.Background(),
		"https://stackoverflow.com/questions/999", nil)
	if !errors.Is(err, source.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestStackOverflowFetchUnsupportedURL(t *testing.T) {
	client := source.NewStackOverflowClient(&mockTransport{}, discardLogger())

	_, err := client.Fetch(context.Background(),
		"https://stackoverflow.com/users/123", nil)
	if !errors.Is(err, source.ErrURLUnsupported) {
		t.Fatalf("expected ErrURLUnsupported, got %v", err)
	}
}
