// Package bridge normalizes raw marketplace API JSON captured by extension
// workers into the output models. The extension forwards internal API
// responses untouched; field names and price scaling are quirks of that API.
package bridge

import (
	"go.uber.org/zap"

	"github.com/gendonholaholo/shopscrap/internal/models"
)

// Raw marketplace API encodes prices scaled by this factor.
const priceDivisor = 100000

const imageCDN = "https://cf.shopee.co.id/file/"

// Bridge transforms raw capture payloads into normalized models.
type Bridge struct {
	baseURL string
	logger  *zap.Logger
}

// New constructs a Bridge. baseURL builds canonical product links.
func New(baseURL string, logger *zap.Logger) *Bridge {
	return &Bridge{baseURL: baseURL, logger: logger}
}

// SearchResults normalizes a raw search response into products. Items may
// sit at the top level or nested under data, wrapped in item_basic or not.
func (b *Bridge) SearchResults(raw map[string]any) []models.Product {
	items := asSlice(raw["items"])
	if len(items) == 0 {
		items = asSlice(asMap(raw["data"])["items"])
	}

	products := make([]models.Product, 0, len(items))
	for _, entry := range items {
		item := asMap(entry)
		if basic := asMap(item["item_basic"]); len(basic) > 0 {
			item = basic
		}
		if p, ok := b.searchItem(item); ok {
			products = append(products, p)
		}
	}
	b.logger.Debug("bridge normalized search results", zap.Int("count", len(products)))
	return products
}

// ProductResult normalizes a raw product detail response. Returns false when
// the payload lacks an item id.
func (b *Bridge) ProductResult(raw map[string]any) (models.Product, bool) {
	data := asMap(raw["data"])
	if len(data) == 0 {
		data = raw
	}
	item := asMap(data["item"])
	if len(item) == 0 {
		item = data
	}

	itemID := asInt(item["itemid"], asInt(item["item_id"], 0))
	if itemID == 0 {
		return models.Product{}, false
	}
	shopID := asInt(item["shopid"], asInt(item["shop_id"], 0))

	price := asFloat(item["price"]) / priceDivisor
	priceMin := asFloat(item["price_min"]) / priceDivisor
	if priceMin == 0 {
		priceMin = price
	}
	priceMax := asFloat(item["price_max"]) / priceDivisor
	if priceMax == 0 {
		priceMax = priceMin
	}

	var variants []models.Variant
	for _, entry := range asSlice(item["models"]) {
		model := asMap(entry)
		variants = append(variants, models.Variant{
			ModelID: asInt(model["modelid"], 0),
			Name:    asString(model["name"]),
			Price:   asFloat(model["price"]) / priceDivisor,
			Stock:   asInt(model["stock"], 0),
			Sold:    asInt(model["sold"], 0),
		})
	}

	var categoryPath []string
	for _, entry := range asSlice(item["categories"]) {
		categoryPath = append(categoryPath, asString(asMap(entry)["display_name"]))
	}

	var variations []models.Variation
	for _, entry := range asSlice(item["tier_variations"]) {
		tier := asMap(entry)
		variation := models.Variation{Name: asString(tier["name"])}
		for _, opt := range asSlice(tier["options"]) {
			variation.Options = append(variation.Options, asString(opt))
		}
		variations = append(variations, variation)
	}

	rating := asMap(item["item_rating"])
	shopInfo := asMap(data["shop_info"])
	condition := "new"
	if isNew, ok := item["is_new"].(bool); ok && !isNew {
		condition = "used"
	}

	return models.Product{
		ItemID:              itemID,
		ShopID:              shopID,
		Name:                asString(item["name"]),
		Description:         asString(item["description"]),
		Price:               priceMin,
		PriceMin:            priceMin,
		PriceMax:            priceMax,
		PriceBeforeDiscount: asFloat(item["price_before_discount"]) / priceDivisor,
		Stock:               asInt(item["stock"], 0),
		Sold:                asInt(item["sold"], asInt(item["historical_sold"], 0)),
		Rating:              asFloat(rating["rating_star"]),
		RatingCount:         asInt(item["cmt_count"], 0),
		Images:              imageURLs(item["images"]),
		Variants:            variants,
		Variations:          variations,
		CategoryID:          asInt(item["catid"], 0),
		CategoryPath:        categoryPath,
		Condition:           condition,
		Shop: models.Shop{
			ShopID:     shopID,
			Name:       asString(shopInfo["name"]),
			Username:   asString(asMap(shopInfo["account"])["username"]),
			Location:   asString(shopInfo["shop_location"]),
			Rating:     asFloat(shopInfo["rating_star"]),
			IsOfficial: asBool(shopInfo["is_official_shop"]),
		},
		URL: b.productURL(shopID, itemID),
	}, true
}

// ReviewsResult normalizes a raw ratings response.
func (b *Bridge) ReviewsResult(raw map[string]any) []models.Review {
	data := asMap(raw["data"])
	if len(data) == 0 {
		data = raw
	}

	ratings := asSlice(data["ratings"])
	reviews := make([]models.Review, 0, len(ratings))
	for _, entry := range ratings {
		rating := asMap(entry)
		if len(rating) == 0 {
			continue
		}

		var videos []string
		for _, v := range asSlice(rating["videos"]) {
			videos = append(videos, asString(asMap(v)["url"]))
		}
		var variation string
		if items := asSlice(rating["product_items"]); len(items) > 0 {
			variation = asString(asMap(items[0])["model_name"])
		}
		avatar := ""
		if portrait := asString(rating["author_portrait"]); portrait != "" {
			avatar = imageCDN + portrait
		}

		reviews = append(reviews, models.Review{
			RatingID:    asInt(rating["cmtid"], 0),
			Rating:      asFloat(rating["rating_star"]),
			Comment:     asString(rating["comment"]),
			Images:      stringSlice(rating["images"]),
			Videos:      videos,
			Variation:   variation,
			Likes:       asInt(rating["like_count"], 0),
			CreatedAt:   asInt(rating["ctime"], 0),
			IsAnonymous: asBool(rating["anonymous"]),
			ShopReply:   asString(asMap(rating["itemrpt"])["cmt"]),
			Author: models.Reviewer{
				UserID:   asInt(rating["author_shopid"], 0),
				Username: asString(rating["author_username"]),
				Avatar:   avatar,
			},
		})
	}
	b.logger.Debug("bridge normalized reviews", zap.Int("count", len(reviews)))
	return reviews
}

func (b *Bridge) searchItem(item map[string]any) (models.Product, bool) {
	itemID := asInt(item["itemid"], asInt(item["item_id"], 0))
	shopID := asInt(item["shopid"], asInt(item["shop_id"], 0))
	if itemID == 0 || shopID == 0 {
		return models.Product{}, false
	}

	price := asFloat(item["price_min"])
	if price == 0 {
		price = asFloat(item["price"])
	}

	rating := asMap(item["item_rating"])
	var ratingCount int64
	for _, c := range asSlice(rating["rating_count"]) {
		ratingCount += asInt(c, 0)
	}

	return models.Product{
		ItemID:      itemID,
		ShopID:      shopID,
		Name:        asString(item["name"]),
		Price:       price / priceDivisor,
		Stock:       asInt(item["stock"], 0),
		Sold:        asInt(item["sold"], asInt(item["historical_sold"], 0)),
		Rating:      asFloat(rating["rating_star"]),
		RatingCount: ratingCount,
		Images:      imageURLs(item["images"]),
		Shop: models.Shop{
			ShopID:     shopID,
			Location:   asString(item["shop_location"]),
			IsOfficial: asBool(item["is_official_shop"]),
		},
		URL: b.productURL(shopID, itemID),
	}, true
}

func (b *Bridge) productURL(shopID, itemID int64) string {
	return b.baseURL + "/product/" + itoa(shopID) + "/" + itoa(itemID)
}

func imageURLs(v any) []string {
	hashes := stringSlice(v)
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, imageCDN+h)
	}
	return out
}
