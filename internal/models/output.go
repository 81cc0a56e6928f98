// Package models defines the normalized output schemas produced by scrapes.
package models

import "time"

// Shop describes the seller of a product.
type Shop struct {
	ShopID     int64   `json:"shop_id"`
	Name       string  `json:"name"`
	Username   string  `json:"username"`
	Location   string  `json:"location"`
	Rating     float64 `json:"rating,omitempty"`
	IsOfficial bool    `json:"is_official"`
}

// Variant is one purchasable model of a product.
type Variant struct {
	ModelID int64   `json:"model_id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Stock   int64   `json:"stock"`
	Sold    int64   `json:"sold"`
}

// Variation is one tier of selectable options (color, size).
type Variation struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Product is the normalized product record.
type Product struct {
	ItemID              int64       `json:"item_id"`
	ShopID              int64       `json:"shop_id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	Price               float64     `json:"price"`
	PriceMin            float64     `json:"price_min,omitempty"`
	PriceMax            float64     `json:"price_max,omitempty"`
	PriceBeforeDiscount float64     `json:"price_before_discount,omitempty"`
	Stock               int64       `json:"stock"`
	Sold                int64       `json:"sold"`
	Rating              float64     `json:"rating"`
	RatingCount         int64       `json:"rating_count"`
	Images              []string    `json:"images"`
	Variants            []Variant   `json:"variants,omitempty"`
	Variations          []Variation `json:"variations,omitempty"`
	CategoryID          int64       `json:"category_id,omitempty"`
	CategoryPath        []string    `json:"category_path,omitempty"`
	Condition           string      `json:"condition,omitempty"`
	Shop                Shop        `json:"shop"`
	URL                 string      `json:"url"`
}

// Reviewer identifies a review author.
type Reviewer struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Review is one normalized product review.
type Review struct {
	RatingID    int64    `json:"rating_id"`
	Rating      float64  `json:"rating"`
	Comment     string   `json:"comment"`
	Images      []string `json:"images,omitempty"`
	Videos      []string `json:"videos,omitempty"`
	Variation   string   `json:"variation,omitempty"`
	Likes       int64    `json:"likes"`
	CreatedAt   int64    `json:"created_at"`
	IsAnonymous bool     `json:"is_anonymous"`
	ShopReply   string   `json:"shop_reply,omitempty"`
	Author      Reviewer `json:"author"`
}

// Export wraps a batch of products with scrape metadata.
type Export struct {
	ScrapedAt time.Time `json:"scraped_at"`
	Count     int       `json:"count"`
	Products  []Product `json:"products"`
}

// NewExport wraps products with the current timestamp.
func NewExport(products []Product, at time.Time) Export {
	return Export{ScrapedAt: at, Count: len(products), Products: products}
}
