package media

import (
	"regexp"
	"strings"
)

var bareURLPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"}

// ExtractImageURLs scans text for bare URLs that look like image files,
// returning at most max matches in order of appearance.
func ExtractImageURLs(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	var urls []string
	for _, url := range bareURLPattern.FindAllString(text, -1) {
		lower := strings.ToLower(url)
		for _, ext := range imageExtensions {
			if strings.HasSuffix(lower, ext) {
				urls = append(urls, url)
				break
			}
		}
		if len(urls) == max {
			break
		}
	}
	return urls
}
