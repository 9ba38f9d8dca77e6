// Package gsconnect renders the per-product connection manifest that clients
// fetch from /gsinit.php before contacting the router.
package gsconnect

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingProduct is returned when the request names no product.
	ErrMissingProduct = errors.New("gsconnect: missing product")
	// ErrUnknownProduct is returned for a product that is not served.
	ErrUnknownProduct = errors.New("gsconnect: unknown product")
)

// ContentType is the media type of a rendered manifest.
const ContentType = "text/plain; charset=utf-8"

// IndexPage is served at the GSConnect root.
const IndexPage = "<html><head><title>connect</title></head></html>"

// Endpoints are the service addresses announced to clients. Every service
// shares Host.
type Endpoints struct {
	Host       string
	RouterPort int
	CDKeyPort  int
	NATPort    int
	IRCPort    int
	ProxyPort  int
}

// Render returns the manifest for e. Lines are joined with "\n" and the
// manifest carries no trailing newline.
func Render(e Endpoints) string {
	lines := []string{
		"[Servers]",
		fmt.Sprintf("RouterIP0=%s", e.Host),
		fmt.Sprintf("RouterPort0=%d", e.RouterPort),
		fmt.Sprintf("CDKeyServerIP0=%s", e.Host),
		fmt.Sprintf("CDKeyServerPort0=%d", e.CDKeyPort),
		fmt.Sprintf("NATServerIP0=%s", e.Host),
		fmt.Sprintf("NATServerPort0=%d", e.NATPort),
		fmt.Sprintf("IRCIP0=%s", e.Host),
		fmt.Sprintf("IRCPort0=%d", e.IRCPort),
		fmt.Sprintf("ProxyIP0=%s", e.Host),
		fmt.Sprintf("ProxyPort0=%d", e.ProxyPort),
	}
	return strings.Join(lines, "\n")
}

// Catalog serves manifests for a fixed set of products.
type Catalog struct {
	manifest string
	products map[string]struct{}
}

// NewCatalog builds a Catalog announcing e for every product in products.
func NewCatalog(e Endpoints, products []string) *Catalog {
	c := &Catalog{
		manifest: Render(e),
		products: make(map[string]struct{}, len(products)),
	}
	for _, p := range products {
		c.products[p] = struct{}{}
	}
	return c
}

// Manifest returns the manifest for product.
func (c *Catalog) Manifest(product string) (string, error) {
	if product == "" {
		return "", ErrMissingProduct
	}
	if _, ok := c.products[product]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProduct, product)
	}
	return c.manifest, nil
}

// Has reports whether product is served.
func (c *Catalog) Has(product string) bool {
	_, ok := c.products[product]
	return ok
}
