package services

import (
	"fmt"
	"sort"
	"strings"

	"deal-scraper/models"
	"deal-scraper/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(products []*models.Product) *models.DealReport {
	report := &models.DealReport{
		ProductsByBrand: make(map[string]int),
	}

	if len(products) == 0 {
		return report
	}

	report.TotalProducts = len(products)

	var priced []*models.Product
	var discounted []*models.Product

	for _, p := range products {
		if p.IsSponsored {
			report.SponsoredCount++
		}
		if p.CurrentPrice != nil && *p.CurrentPrice > 0 {
			priced = append(priced, p)
		}
		if p.DiscountPercentage != nil && *p.DiscountPercentage > 0 {
			discounted = append(discounted, p)
		}
		if p.Brand != "" {
			report.ProductsByBrand[p.Brand]++
		}
	}

	// Price stats (only products with a price)
	if len(priced) > 0 {
		report.MinPrice = *priced[0].CurrentPrice
		report.MaxPrice = *priced[0].CurrentPrice
		var total float64
		for _, p := range priced {
			price := *p.CurrentPrice
			total += price
			if price < report.MinPrice {
				report.MinPrice = price
			}
			if price > report.MaxPrice {
				report.MaxPrice = price
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	// Top 5 by discount
	sort.Slice(discounted, func(i, j int) bool {
		return *discounted[i].DiscountPercentage > *discounted[j].DiscountPercentage
	})
	if len(discounted) > 0 {
		report.BestDeal = discounted[0]
	}
	if len(discounted) > 5 {
		report.TopDiscounts = discounted[:5]
	} else {
		report.TopDiscounts = discounted
	}

	return report
}

func (s *InsightService) Print(r *models.DealReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 DEAL SCRAPE INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Products tracked   : \033[1m%d\033[0m\n", r.TotalProducts)
	fmt.Printf("  Sponsored listings : \033[1m%d\033[0m\n", r.SponsoredCount)
	fmt.Println()

	// Price Stats
	fmt.Printf("\033[1;33m  Price Statistics\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Printf("  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Printf("  Minimum price : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	// Best Deal
	if r.BestDeal != nil && r.BestDeal.DiscountPercentage != nil {
		fmt.Printf("\033[1;33m  Best Deal\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.BestDeal.Title, 50))
		if r.BestDeal.CurrentPrice != nil {
			fmt.Printf("  Price    : \033[1;31m$%.2f\033[0m\n", *r.BestDeal.CurrentPrice)
		}
		fmt.Printf("  Discount : \033[1;31m%d%% off\033[0m\n", *r.BestDeal.DiscountPercentage)
		fmt.Println()
	}

	// Top discounts
	fmt.Printf("\033[1;33m  Top 5 Discounts\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.TopDiscounts) == 0 {
		fmt.Printf("  No discounted products found\n")
	} else {
		for i, p := range r.TopDiscounts {
			fmt.Printf("  \033[1m%d.\033[0m %-40s \033[1;32m%d%% off\033[0m\n",
				i+1, truncate(p.Title, 38), *p.DiscountPercentage)
		}
	}
	fmt.Println()

	// Products by brand
	fmt.Printf("\033[1;33m  Products by Brand\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ProductsByBrand) == 0 {
		fmt.Printf("  No brand data\n")
	} else {
		type brandCount struct {
			brand string
			count int
		}
		var brands []brandCount
		for brand, cnt := range r.ProductsByBrand {
			brands = append(brands, brandCount{brand, cnt})
		}
		sort.Slice(brands, func(i, j int) bool {
			return brands[i].count > brands[j].count
		})
		for _, bc := range brands {
			bar := strings.Repeat("█", bc.count)
			fmt.Printf("  %-30s %s (%d)\n", truncate(bc.brand, 28), bar, bc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
