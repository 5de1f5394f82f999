package httpd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDropsOldestOnFullAndCountsLag(t *testing.T) {
	b := newBus(2)
	b.publish(page{requestedURL: "a"})
	b.publish(page{requestedURL: "b"})
	b.publish(page{requestedURL: "c"})

	pages, lagged, closed := b.take()
	require.Equal(t, 1, lagged)
	require.False(t, closed)
	require.Len(t, pages, 2)
	require.Equal(t, "b", pages[0].requestedURL)
	require.Equal(t, "c", pages[1].requestedURL)
}

func TestBusTakeDrainsAndResetsLag(t *testing.T) {
	b := newBus(4)
	b.publish(page{requestedURL: "a"})
	first, lagged, _ := b.take()
	require.Len(t, first, 1)
	require.Equal(t, 0, lagged)

	second, _, closed := b.take()
	require.Empty(t, second)
	require.False(t, closed)
}

func TestBusCloseIsObservedOnceEmpty(t *testing.T) {
	b := newBus(4)
	b.closeBus()
	pages, _, closed := b.take()
	require.Empty(t, pages)
	require.True(t, closed)
}

func TestExtractSitemapLines(t *testing.T) {
	robots := "User-agent: *\nDisallow: /admin\nSitemap: https://example.test/sitemap.xml\nSitemap: https://example.test/sitemap2.xml\n"
	lines := extractSitemapLines(robots)
	require.Equal(t, []string{"https://example.test/sitemap.xml", "https://example.test/sitemap2.xml"}, lines)
}

func TestExtractLocTags(t *testing.T) {
	xml := `<urlset><url><loc>https://example.test/a</loc></url><url><loc>https://example.test/b</loc></url></urlset>`
	locs := extractLocTags(xml)
	require.Equal(t, []string{"https://example.test/a", "https://example.test/b"}, locs)
}

func TestRootOrigin(t *testing.T) {
	require.Equal(t, "https://example.test", rootOrigin("https://example.test/a/b?c=1"))
	require.Equal(t, "http://example.test", rootOrigin("http://example.test"))
}
