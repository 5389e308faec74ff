// Package pitchfork is the review-site connector. It fetches the paged
// review listing for a genre, then scrapes each review page into a raw
// record. The CSS selectors and genre slugs live in an embedded profile so
// site markup drift is a data edit, not a code change.
package pitchfork

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"popscore-backend/internal/dataset"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v2"
)

//go:embed profile.yaml
var profileYAML []byte

type Profile struct {
	Listing struct {
		Path               string `yaml:"path"`
		GenreParam         string `yaml:"genre_param"`
		PageParam          string `yaml:"page_param"`
		ReviewLinkSelector string `yaml:"review_link_selector"`
	} `yaml:"listing"`

	Review struct {
		ArtistSelector    string `yaml:"artist_selector"`
		TitleSelector     string `yaml:"title_selector"`
		ScoreSelector     string `yaml:"score_selector"`
		PublishedSelector string `yaml:"published_selector"`
	} `yaml:"review"`

	Genres []Genre `yaml:"genres"`
}

type Genre struct {
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

func loadProfile() (*Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(profileYAML, &profile); err != nil {
		return nil, fmt.Errorf("error parsing scrape profile: %w", err)
	}
	return &profile, nil
}

const (
	requestTimeout = 30 * time.Second

	// maxListingPages bounds the listing walk for a single genre.
	maxListingPages = 500
)

type Scraper struct {
	client  *resty.Client
	profile *Profile
}

func NewScraper(baseURL string) (*Scraper, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}

	return &Scraper{
		client:  resty.New().SetBaseURL(baseURL),
		profile: profile,
	}, nil
}

// Genres lists the genre names the embedded profile can scrape.
func (s *Scraper) Genres() []string {
	names := make([]string, len(s.profile.Genres))
	for i, g := range s.profile.Genres {
		names[i] = g.Name
	}
	return names
}

func (s *Scraper) genreSlug(genre string) (string, error) {
	for _, g := range s.profile.Genres {
		if strings.EqualFold(g.Name, genre) {
			return g.Slug, nil
		}
	}
	return "", fmt.Errorf("unknown genre %q, expected one of %v", genre, s.Genres())
}

func (s *Scraper) fetch(ctx context.Context, path string, params map[string]string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)

	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", dataset.ErrFetch, path, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: GET %s returned status %d", dataset.ErrFetch, path, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", dataset.ErrFetch, path, err)
	}
	return doc, nil
}

// ReviewURLs walks the genre-filtered review listing page by page until n
// review links are collected or the listing runs out.
func (s *Scraper) ReviewURLs(ctx context.Context, genre string, n int) ([]string, error) {
	slug, err := s.genreSlug(genre)
	if err != nil {
		return nil, err
	}

	var urls []string
	for page := 1; len(urls) < n && page <= maxListingPages; page++ {
		doc, err := s.fetch(ctx, s.profile.Listing.Path, map[string]string{
			s.profile.Listing.GenreParam: slug,
			s.profile.Listing.PageParam:  strconv.Itoa(page),
		})
		if err != nil {
			return nil, err
		}

		found := 0
		doc.Find(s.profile.Listing.ReviewLinkSelector).Each(func(_ int, sel *goquery.Selection) {
			if href, ok := sel.Attr("href"); ok && len(urls) < n {
				urls = append(urls, href)
				found++
			}
		})

		if found == 0 {
			break
		}
	}

	slog.Info("collected review urls", "genre", genre, "requested", n, "found", len(urls))
	return urls, nil
}

// Review scrapes one album review page into a raw record. The genre is
// carried over from the listing context; coercion stays with the cleaner.
func (s *Scraper) Review(ctx context.Context, url, genre string) (dataset.RawReviewRecord, error) {
	doc, err := s.fetch(ctx, url, nil)
	if err != nil {
		return dataset.RawReviewRecord{}, err
	}

	rec := dataset.RawReviewRecord{
		Artist: strings.TrimSpace(doc.Find(s.profile.Review.ArtistSelector).First().Text()),
		Album:  strings.TrimSpace(doc.Find(s.profile.Review.TitleSelector).First().Text()),
		Genre:  genre,
		Rating: strings.TrimSpace(doc.Find(s.profile.Review.ScoreSelector).First().Text()),
		URL:    url,
	}

	if published, ok := doc.Find(s.profile.Review.PublishedSelector).First().Attr("datetime"); ok {
		rec.PublishedAt = strings.TrimSpace(published)
	}

	return rec, nil
}

// AlbumRatings collects up to n raw review records for one genre.
func (s *Scraper) AlbumRatings(ctx context.Context, genre string, n int) ([]dataset.RawReviewRecord, error) {
	urls, err := s.ReviewURLs(ctx, genre, n)
	if err != nil {
		return nil, err
	}

	records := make([]dataset.RawReviewRecord, 0, len(urls))
	for _, url := range urls {
		rec, err := s.Review(ctx, url, genre)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
