package flickr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"stencil/internal/fileutil"
)

const resourcesFileName = "resources.json"

// Photo identifies a downloadable Flickr image.
type Photo struct {
	ID     string
	Server string
	Secret string
	Title  string
}

// SourceURL returns the canonical static download URL for the photo.
func (p Photo) SourceURL() string {
	return fmt.Sprintf("%s/%s/%s_%s.jpg", defaultPhotoBaseURL, p.Server, p.ID, p.Secret)
}

// photoURL builds the download URL against the configured photo host.
func (c *Client) photoURL(p Photo) string {
	return fmt.Sprintf("%s/%s/%s_%s.jpg", c.photoBase, p.Server, p.ID, p.Secret)
}

// SearchPage is one page of photo search results.
type SearchPage struct {
	Page   int
	Pages  int
	Photos []Photo
}

// FetchResult summarizes a FetchImages run.
type FetchResult struct {
	Downloaded int
	Cached     int
	Skipped    int
	Paths      []string
}

type searchResponse struct {
	Photos struct {
		Page    int         `json:"page"`
		Pages   int         `json:"pages"`
		PerPage int         `json:"perpage"`
		Photo   []photoItem `json:"photo"`
	} `json:"photos"`
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type photoItem struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
	Server string `json:"server"`
	Title  string `json:"title"`
}

// Search fetches one page of photos matching the tag query. Multiple
// tags are comma-separated and must all match.
func (c *Client) Search(ctx context.Context, tags string, page int) (SearchPage, error) {
	if !c.Configured() {
		return SearchPage{}, errors.New("flickr: api key not configured")
	}
	tags = strings.TrimSpace(tags)
	if tags == "" {
		return SearchPage{}, errors.New("flickr: empty search query")
	}
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("tags", tags)
	params.Set("tag_mode", "all")
	params.Set("media", "photos")
	params.Set("per_page", strconv.Itoa(defaultPerPage))
	params.Set("page", strconv.Itoa(page))

	body, err := c.callMethod(ctx, "flickr search", "flickr.photos.search", params)
	if err != nil {
		return SearchPage{}, err
	}
	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchPage{}, fmt.Errorf("flickr search: decode response: %w", err)
	}
	if decoded.Stat != "ok" {
		return SearchPage{}, &apiError{Code: decoded.Code, Message: decoded.Message}
	}
	result := SearchPage{Page: decoded.Photos.Page, Pages: decoded.Photos.Pages}
	for _, item := range decoded.Photos.Photo {
		result.Photos = append(result.Photos, Photo{
			ID:     item.ID,
			Server: item.Server,
			Secret: item.Secret,
			Title:  item.Title,
		})
	}
	return result, nil
}

// FetchImages downloads up to maxCount photos matching query into
// dir/raw as <id>.jpg. Photos already on disk count toward maxCount
// without a download. Individual download failures are logged and
// skipped; search failures abort the batch. The resources.json index
// in dir is rewritten atomically before returning.
func (c *Client) FetchImages(ctx context.Context, query string, maxCount int, dir string) (FetchResult, error) {
	var result FetchResult
	if maxCount <= 0 {
		return result, errors.New("flickr: maxCount must be positive")
	}
	rawDir := filepath.Join(dir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return result, fmt.Errorf("flickr fetch: create raw directory: %w", err)
	}
	index, err := loadResourceIndex(dir)
	if err != nil && c.logger != nil {
		c.logger.Warn("resource index unreadable, rebuilding", "path", filepath.Join(dir, resourcesFileName), "error", err)
	}

	collected := 0
	for page := 1; collected < maxCount; page++ {
		searchPage, err := c.Search(ctx, query, page)
		if err != nil {
			return result, err
		}
		if len(searchPage.Photos) == 0 {
			break
		}
		for _, photo := range searchPage.Photos {
			if collected >= maxCount {
				break
			}
			if photo.ID == "" || strings.ContainsAny(photo.ID, `/\`) {
				result.Skipped++
				continue
			}
			destPath := filepath.Join(rawDir, photo.ID+".jpg")
			if fileExists(destPath) {
				index[photo.ID] = photo.SourceURL()
				result.Cached++
				result.Paths = append(result.Paths, destPath)
				collected++
				continue
			}
			if err := c.downloadPhoto(ctx, photo, destPath); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				if c.logger != nil {
					c.logger.Warn("photo download failed", "id", photo.ID, "url", c.photoURL(photo), "error", err)
				}
				result.Skipped++
				continue
			}
			index[photo.ID] = photo.SourceURL()
			result.Downloaded++
			result.Paths = append(result.Paths, destPath)
			collected++
		}
		if searchPage.Pages > 0 && page >= searchPage.Pages {
			break
		}
	}

	sort.Strings(result.Paths)
	if err := saveResourceIndex(dir, index); err != nil {
		return result, err
	}
	return result, nil
}

// downloadPhoto fetches one image. Responses that are not HTTP 200
// JPEG payloads are rejected so the caller can skip the photo.
func (c *Client) downloadPhoto(ctx context.Context, photo Photo, destPath string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.photoURL(photo), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/jpeg") {
		return fmt.Errorf("unexpected content type %q", contentType)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := fileutil.WriteFileAtomic(destPath, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func loadResourceIndex(dir string) (map[string]string, error) {
	index := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(dir, resourcesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return index, err
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return make(map[string]string), err
	}
	return index, nil
}

func saveResourceIndex(dir string, index map[string]string) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("flickr fetch: encode resource index: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, resourcesFileName), data, 0o644); err != nil {
		return fmt.Errorf("flickr fetch: write resource index: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
