package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

func TestPublishRecordsMessages(t *testing.T) {
	p := New()

	id, err := p.Publish(context.Background(), "crawl-results", crawler.ResultEvent{URLID: 7, Succeeded: true})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-results", msgs[0].Topic)

	event, ok := msgs[0].Payload.(crawler.ResultEvent)
	require.True(t, ok)
	require.Equal(t, int64(7), event.URLID)
	require.True(t, event.Succeeded)
}
