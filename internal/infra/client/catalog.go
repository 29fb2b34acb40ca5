// Package client holds the HTTP gateways to external services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/cache"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// CatalogClient reads products from the catalog REST service.
type CatalogClient struct {
	http        *resty.Client
	baseURL     string
	documentURL string
	cb          *gobreaker.CircuitBreaker
	cfg         resilience.Config
	products    *cache.InMemory[*domain.Product]
	metrics     *observability.Metrics
	logger      *zap.Logger
}

var _ port.CatalogGateway = (*CatalogClient)(nil)

// CatalogOptions configures NewCatalogClient.
type CatalogOptions struct {
	BaseURL      string
	DocumentCode string
	Timeout      time.Duration
	CacheTTL     time.Duration
	Resilience   resilience.Config
}

// NewCatalogClient creates a catalog gateway with its own breaker and
// product cache.
func NewCatalogClient(opts CatalogOptions, metrics *observability.Metrics, logger *zap.Logger) *CatalogClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &CatalogClient{
		http: resty.New().
			SetBaseURL(base).
			SetHeader("Accept", "application/json").
			SetTimeout(opts.Timeout),
		baseURL:     base,
		documentURL: fmt.Sprintf("%s/api/catalogo/documents/pdf/%s", base, opts.DocumentCode),
		cb:          resilience.NewCircuitBreaker("catalog", logger),
		cfg:         opts.Resilience,
		products:    cache.New[*domain.Product](opts.CacheTTL),
		metrics:     metrics,
		logger:      logger,
	}
}

// CatalogDocumentURL is the public link to the catalog PDF.
func (c *CatalogClient) CatalogDocumentURL() string {
	return c.documentURL
}

// SearchProducts runs a free-text search. page is zero-based.
func (c *CatalogClient) SearchProducts(ctx context.Context, term string, page, pageSize int) ([]domain.SearchItem, error) {
	ctx, span := tracer.Start(ctx, "CatalogClient.SearchProducts")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.term", term))

	items, err := resilience.Call(ctx, c.cb, c.cfg, "catalog/search", func(ctx context.Context) ([]domain.SearchItem, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"opcion":         "1",
				"buscar":         term,
				"posicionPagina": strconv.Itoa(page),
				"filasPorPagina": strconv.Itoa(pageSize),
			}).
			Get("/api/producto/list")
		if err := checkResponse(resp, err); err != nil {
			return nil, err
		}
		var body listResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return nil, resilience.Permanent(fmt.Errorf("decode search: %w", err))
		}

		out := make([]domain.SearchItem, 0, len(body.Result))
		for _, raw := range body.Result {
			var p catalogProduct
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, resilience.Permanent(fmt.Errorf("decode search item: %w", err))
			}
			out = append(out, domain.SearchItem{
				ProductID: string(p.ID),
				Name:      p.Name,
				Price:     float64(p.Price),
				Code:      p.Code,
				ImageURL:  p.imageURL(),
				Raw:       raw,
			})
		}
		return out, nil
	})
	if err != nil {
		c.metrics.IncrExternalError("catalog")
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("catalog.results", len(items)))
	return items, nil
}

// GetProductByID fetches one product. It returns nil when the catalog has
// no such product.
func (c *CatalogClient) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return c.fetchProduct(ctx, "id:"+id, "/api/producto/id", "idProducto", id)
}

// GetProductByCode fetches one product by its catalog code.
func (c *CatalogClient) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	return c.fetchProduct(ctx, "code:"+code, "/api/producto/filter/web/id", "codigo", code)
}

func (c *CatalogClient) fetchProduct(ctx context.Context, key, path, param, value string) (*domain.Product, error) {
	if p, ok := c.products.Get(key); ok {
		c.metrics.IncrCacheHit("product")
		return p, nil
	}
	c.metrics.IncrCacheMiss("product")

	ctx, span := tracer.Start(ctx, "CatalogClient.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.key", key))

	product, err := resilience.Call(ctx, c.cb, c.cfg, "catalog/product", func(ctx context.Context) (*domain.Product, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam(param, value).
			Get(path)
		if resp != nil && resp.StatusCode() == http.StatusNotFound {
			return nil, nil
		}
		if err := checkResponse(resp, err); err != nil {
			return nil, err
		}
		body := bytes.TrimSpace(resp.Body())
		if len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}")) {
			return nil, nil
		}
		var p catalogProduct
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, resilience.Permanent(fmt.Errorf("decode product: %w", err))
		}
		return p.toDomain(), nil
	})
	if err != nil {
		c.metrics.IncrExternalError("catalog")
		span.RecordError(err)
		return nil, err
	}
	if product != nil {
		c.products.Set(key, product)
	}
	return product, nil
}

// Close releases the product cache janitor.
func (c *CatalogClient) Close() {
	c.products.Close()
}

// checkResponse turns transport failures and non-2xx codes into errors.
// 4xx answers are not retried.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		e := fmt.Errorf("catalog returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		if resp.StatusCode() < 500 {
			return resilience.Permanent(e)
		}
		return e
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- wire format ---

type listResponse struct {
	Result []json.RawMessage `json:"result"`
}

type catalogProduct struct {
	ID              flexString `json:"idProducto"`
	Name            string     `json:"nombre"`
	Price           flexFloat  `json:"precio"`
	Code            string     `json:"codigo"`
	SKU             string     `json:"sku"`
	Category        string     `json:"categoria"`
	Description     string     `json:"descripcion"`
	LongDescription string     `json:"descripcionLarga"`
	Size            string     `json:"medida"`
	Image           *struct {
		URL string `json:"url"`
	} `json:"imagen"`
	Images []struct {
		Name string `json:"nombre"`
		URL  string `json:"url"`
	} `json:"imagenes"`
	Colors []struct {
		Name string `json:"nombre"`
		Hex  string `json:"hexadecimal"`
	} `json:"colores"`
	Details []struct {
		Name  string `json:"nombre"`
		Value string `json:"valor"`
	} `json:"detalles"`
}

func (p *catalogProduct) imageURL() string {
	if p.Image != nil {
		return p.Image.URL
	}
	return ""
}

func (p *catalogProduct) toDomain() *domain.Product {
	out := &domain.Product{
		ID:          string(p.ID),
		Code:        p.Code,
		SKU:         p.SKU,
		Name:        p.Name,
		Price:       float64(p.Price),
		Description: p.LongDescription,
		Category:    p.Category,
		Size:        p.Size,
		ImageURL:    p.imageURL(),
	}
	if out.Description == "" {
		out.Description = p.Description
	}
	for _, img := range p.Images {
		u := img.URL
		if u == "" {
			u = img.Name
		}
		if u != "" {
			out.Images = append(out.Images, u)
		}
	}
	for _, col := range p.Colors {
		out.Colors = append(out.Colors, domain.ProductColor{Name: col.Name, Hex: col.Hex})
	}
	if len(p.Details) > 0 {
		out.Details = make(map[string]string, len(p.Details))
		for _, d := range p.Details {
			out.Details[d.Name] = d.Value
		}
	}
	return out
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("price %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
