package collyfetcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
)

// Column classes used by the Box Office Mojo tables.
const (
	classRank     = ".mojo-field-type-rank"
	classRelease  = ".mojo-field-type-release"
	classMoney    = ".mojo-field-type-money"
	classInteger  = ".mojo-field-type-positive_integer"
	classStudios  = ".mojo-field-type-release_studios"
	summaryValues = ".mojo-summary-values"
)

const summaryDateLayout = "Jan 2, 2006"

var (
	releasePath = regexp.MustCompile(`/release/(\w+)`)
	digits      = regexp.MustCompile(`\d+`)
)

// parseRanking reads the daily table. Rows that fail to parse are returned
// separately so one bad row does not lose the page.
func parseRanking(doc *goquery.Document, d civil.Date) ([]boxoffice.RankingRow, []error, error) {
	table := doc.Find("#table")
	if table.Length() == 0 {
		return nil, nil, fmt.Errorf("%w: ranking %s: table not found", boxoffice.ErrParse, d)
	}
	var (
		rows    []boxoffice.RankingRow
		skipped []error
	)
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Find("td").Length() == 0 {
			return
		}
		row, err := parseRankingRow(tr, d)
		if err != nil {
			metrics.ObserveSkippedRow("ranking")
			skipped = append(skipped, fmt.Errorf("row %d: %w", i, err))
			return
		}
		rows = append(rows, row)
	})
	return rows, skipped, nil
}

func parseRankingRow(tr *goquery.Selection, d civil.Date) (boxoffice.RankingRow, error) {
	rank, err := parseCount(tr.Find(classRank).First().Text())
	if err != nil {
		return boxoffice.RankingRow{}, fmt.Errorf("rank: %w", err)
	}
	link := tr.Find(classRelease).First().Find("a").First()
	href, _ := link.Attr("href")
	id, ok := releaseID(href)
	if !ok {
		return boxoffice.RankingRow{}, fmt.Errorf("%w: no release id in %q", boxoffice.ErrParse, href)
	}
	revenue, err := parseMoney(tr.Find(classMoney).First().Text())
	if err != nil {
		return boxoffice.RankingRow{}, fmt.Errorf("revenue: %w", err)
	}

	// Yesterday's rank, theater count, days in theaters.
	numbers := tr.Find(classInteger)
	if numbers.Length() < 3 {
		return boxoffice.RankingRow{}, fmt.Errorf("%w: expected 3 integer columns, got %d", boxoffice.ErrParse, numbers.Length())
	}
	days, err := parseCount(numbers.Eq(2).Text())
	if err != nil {
		return boxoffice.RankingRow{}, fmt.Errorf("days in theaters: %w", err)
	}
	theaters, err := parseCount(numbers.Eq(1).Text())
	if err != nil {
		theaters = boxoffice.UnknownTheaterCount
	}

	row := boxoffice.RankingRow{
		MovieID:      id,
		Title:        strings.TrimSpace(link.Text()),
		DayOffset:    days,
		Observation:  boxoffice.DailyObservation{Rank: rank, Revenue: revenue},
		TheaterCount: theaters,
	}
	if days >= 1 {
		release := d.AddDays(-(days - 1))
		row.ReleaseDate = &release
	}
	if studio := strings.TrimSpace(tr.Find(classStudios).First().Find("a").First().Text()); studio != "" {
		row.Distributor = &studio
	}
	return row, row.Validate()
}

// parseMovie reads a release page: title, summary block and daily table.
func parseMovie(doc *goquery.Document, id string) (*boxoffice.Movie, []error, error) {
	title := strings.TrimSpace(doc.Find("h1.a-size-extra-large").First().Text())
	if title == "" {
		return nil, nil, fmt.Errorf("%w: release %s: title not found", boxoffice.ErrParse, id)
	}
	movie := boxoffice.NewMovie(id, title)

	summary := parseSummary(doc)
	if v, ok := summary["Distributor"]; ok {
		v = strings.TrimSpace(strings.ReplaceAll(v, "See full company information", ""))
		if v != "" {
			movie.Distributor = &v
		}
	}
	if v, ok := summary["Widest Release"]; ok {
		if n := digits.FindString(strings.ReplaceAll(v, ",", "")); n != "" {
			if count, err := strconv.Atoi(n); err == nil {
				movie.TheaterCount = count
			}
		}
	}
	for key, v := range summary {
		if !strings.HasPrefix(key, "Release Date") {
			continue
		}
		first, _, _ := strings.Cut(v, "\n")
		if t, err := time.Parse(summaryDateLayout, strings.TrimSpace(first)); err == nil {
			release := civil.DateOf(t)
			movie.ReleaseDate = &release
		}
		break
	}

	var skipped []error
	doc.Find("#table tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Find("td").Length() == 0 {
			return
		}
		day, obs, err := parseReleaseRow(tr)
		if err != nil {
			metrics.ObserveSkippedRow("release")
			skipped = append(skipped, fmt.Errorf("row %d: %w", i, err))
			return
		}
		movie.Revenues[day] = obs
	})
	if err := movie.Validate(); err != nil {
		return nil, skipped, err
	}
	return movie, skipped, nil
}

// parseSummary maps each summary label to its value.
func parseSummary(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find(summaryValues).First().Children().Each(func(_ int, div *goquery.Selection) {
		spans := div.Find("span")
		if spans.Length() < 2 {
			return
		}
		key := strings.Join(strings.Fields(spans.Eq(0).Text()), " ")
		out[key] = strings.TrimSpace(spans.Eq(1).Text())
	})
	return out
}

func parseReleaseRow(tr *goquery.Selection) (int, boxoffice.DailyObservation, error) {
	rank, err := parseCount(tr.Find(classRank).First().Text())
	if err != nil {
		return 0, boxoffice.DailyObservation{}, fmt.Errorf("rank: %w", err)
	}
	revenue, err := parseMoney(tr.Find(classMoney).First().Text())
	if err != nil {
		return 0, boxoffice.DailyObservation{}, fmt.Errorf("revenue: %w", err)
	}
	// Theater count, days in theaters.
	numbers := tr.Find(classInteger)
	if numbers.Length() < 2 {
		return 0, boxoffice.DailyObservation{}, fmt.Errorf("%w: expected 2 integer columns, got %d", boxoffice.ErrParse, numbers.Length())
	}
	day, err := parseCount(numbers.Eq(1).Text())
	if err != nil {
		return 0, boxoffice.DailyObservation{}, fmt.Errorf("days in theaters: %w", err)
	}
	obs := boxoffice.DailyObservation{Rank: rank, Revenue: revenue}
	if err := obs.Validate(); err != nil {
		return 0, boxoffice.DailyObservation{}, err
	}
	return day, obs, nil
}

// parseMoney converts "$3,875,483" to 3875483.
func parseMoney(s string) (int64, error) {
	clean := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: money %q", boxoffice.ErrParse, s)
	}
	return v, nil
}

// parseCount converts "4,178" to 4178.
func parseCount(s string) (int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.Atoi(clean)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q", boxoffice.ErrParse, s)
	}
	return v, nil
}

// releaseID extracts "rl1077904129" from "/release/rl1077904129/?ref_=...".
func releaseID(href string) (string, bool) {
	m := releasePath.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}
