package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Limits describes how a listing names and bounds its page size
type Limits struct {
	SizeParam string
	Default   int
	Max       int
}

var (
	// Standard serves product, order, customer, stock card and audit listings.
	Standard = Limits{SizeParam: "limit", Default: 20, Max: 100}
	// Ledger serves customer ledger listings, read as page/pageSize.
	Ledger = Limits{SizeParam: "pageSize", Default: 50, Max: 500}
)

// Params holds validated pagination parameters
type Params struct {
	Page  int
	Limit int
}

// Parse extracts page/limit with the Standard limits
func Parse(c *gin.Context) Params {
	return Standard.Parse(c)
}

// Parse extracts page and page size from query parameters. Unparsable values fall back to defaults.
func (l Limits) Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query(l.SizeParam))
	return l.Normalize(page, size)
}

// Normalize applies defaults to non-positive values and caps the page size at Max.
func (l Limits) Normalize(page, size int) Params {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = l.Default
	}
	if size > l.Max {
		size = l.Max
	}
	return Params{Page: page, Limit: size}
}
