// Package catalog pages through the remote material catalog.
//
// Client speaks the backend wire format. Fetcher wraps it with the
// refresh-and-retry protocol, and Feed accumulates pages for one dashboard
// view:
//
//	fetcher := catalog.NewFetcher(catalog.NewClient(baseURL), refresher)
//	feed := catalog.NewFeed(fetcher, 12)
//
//	items, err := feed.Next(ctx, store)
//	switch {
//	case errors.Is(err, catalog.ErrExhausted):
//	    // end of list
//	case errors.Is(err, catalog.ErrAuthExpired):
//	    // both session tiers are already cleared
//	}
package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Cursor addresses one page. Skip only moves forward by Limit, except on an
// explicit reload.
type Cursor struct {
	Skip  int
	Limit int
}

// Next returns the cursor of the following page.
func (c Cursor) Next() Cursor {
	return Cursor{Skip: c.Skip + c.Limit, Limit: c.Limit}
}

// Item is one catalog material.
type Item struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	VariantTitle  string  `json:"variantTitle,omitempty"`
	BrandName     string  `json:"brandName"`
	CoverPhoto    string  `json:"coverPhoto"`
	SalesPrice    float64 `json:"salesPrice"`
	SalesPriceUSD float64 `json:"salesPriceInUsd"`
}

type Tag struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type DeliveryArea struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	CityID int    `json:"cityId,omitempty"`
}

// Page is one response of the catalog. RemainingCount decides whether more
// pages exist.
type Page struct {
	Items          []Item
	TotalCount     int
	RemainingCount int
	Tags           []Tag
	DeliveryAreas  []DeliveryArea
}

// HasMore reports whether a later page exists.
func (p *Page) HasMore() bool {
	return p.RemainingCount > 0
}

type wirePage struct {
	TotalCount     int
	RemainingCount int
	Tags           []struct {
		Id    int
		Title string
	}
	DeliveryAreas []struct {
		Id     int
		Name   string
		CityId int
	}
	Materials []struct {
		Id              flexID
		Title           string
		VariantTitle    string
		BrandName       string
		CoverPhoto      string
		SalesPrice      float64
		SalesPriceInUsd float64
	}
}

// flexID accepts a JSON number or string.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = flexID(n.String())
	return nil
}

// toPage is the single place where backend field names are normalized.
func toPage(w *wirePage) *Page {
	p := &Page{
		TotalCount:     w.TotalCount,
		RemainingCount: w.RemainingCount,
		Items:          make([]Item, 0, len(w.Materials)),
	}

	for _, m := range w.Materials {
		p.Items = append(p.Items, Item{
			ID:            string(m.Id),
			Title:         m.Title,
			VariantTitle:  m.VariantTitle,
			BrandName:     m.BrandName,
			CoverPhoto:    m.CoverPhoto,
			SalesPrice:    m.SalesPrice,
			SalesPriceUSD: m.SalesPriceInUsd,
		})
	}

	for _, t := range w.Tags {
		p.Tags = append(p.Tags, Tag{ID: t.Id, Title: t.Title})
	}

	for _, d := range w.DeliveryAreas {
		p.DeliveryAreas = append(p.DeliveryAreas, DeliveryArea{ID: d.Id, Name: d.Name, CityID: d.CityId})
	}

	return p
}
