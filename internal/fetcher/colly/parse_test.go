package collyfetcher

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

const rankingHTML = `<html><body>
<div id="table"><table>
<tr><th>Rank</th><th>LD</th><th>Release</th><th>Daily</th><th>Theaters</th><th>Days</th><th>Distributor</th></tr>
<tr>
  <td class="mojo-field-type-rank">1</td>
  <td class="mojo-field-type-positive_integer">1</td>
  <td class="mojo-field-type-release"><a href="/release/rl1077904129/?ref_=bo_di_table_1">Barbie</a></td>
  <td class="mojo-field-type-money">$3,875,483</td>
  <td class="mojo-field-type-positive_integer">4,178</td>
  <td class="mojo-field-type-positive_integer">28</td>
  <td class="mojo-field-type-release_studios"><a href="/company/co0002663">Warner Bros.</a></td>
</tr>
<tr>
  <td class="mojo-field-type-rank">2</td>
  <td class="mojo-field-type-positive_integer">2</td>
  <td class="mojo-field-type-release"><a href="/release/rl3120464385/?ref_=bo_di_table_2">Teenage Mutant Ninja Turtles: Mutant Mayhem</a></td>
  <td class="mojo-field-type-money">$1,711,262</td>
  <td class="mojo-field-type-positive_integer">-</td>
  <td class="mojo-field-type-positive_integer">16</td>
  <td class="mojo-field-type-release_studios"></td>
</tr>
<tr>
  <td class="mojo-field-type-rank">3</td>
  <td class="mojo-field-type-positive_integer">3</td>
  <td class="mojo-field-type-release"><a href="/title/tt0000000/">Unlinked</a></td>
  <td class="mojo-field-type-money">$10</td>
  <td class="mojo-field-type-positive_integer">1</td>
  <td class="mojo-field-type-positive_integer">1</td>
</tr>
</table></div>
</body></html>`

const releaseHTML = `<html><body>
<h1 class="a-size-extra-large">Barbie</h1>
<div class="mojo-summary-values">
  <div><span>Distributor</span><span>Warner Bros.See full company information</span></div>
  <div><span>Release Date</span><span>Jul 21, 2023
 - Dec 14, 2023</span></div>
  <div><span>Widest Release</span><span>4,243 theaters</span></div>
  <div><span>Genres</span></div>
</div>
<div id="table"><table>
<tr><th>Date</th><th>Rank</th><th>Daily</th><th>Theaters</th><th>Day</th></tr>
<tr>
  <td class="mojo-field-type-rank">1</td>
  <td class="mojo-field-type-money">$70,503,178</td>
  <td class="mojo-field-type-positive_integer">4,243</td>
  <td class="mojo-field-type-positive_integer">1</td>
</tr>
<tr>
  <td class="mojo-field-type-rank">1</td>
  <td class="mojo-field-type-money">$47,843,021</td>
  <td class="mojo-field-type-positive_integer">4,243</td>
  <td class="mojo-field-type-positive_integer">2</td>
</tr>
<tr>
  <td class="mojo-field-type-rank">n/a</td>
  <td class="mojo-field-type-money">$1</td>
  <td class="mojo-field-type-positive_integer">1</td>
  <td class="mojo-field-type-positive_integer">3</td>
</tr>
</table></div>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestParseRanking(t *testing.T) {
	t.Parallel()

	d := civil.Date{Year: 2023, Month: 8, Day: 17}
	rows, skipped, err := parseRanking(mustDoc(t, rankingHTML), d)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, skipped, 1, "row without a release link is skipped")

	barbie := rows[0]
	assert.Equal(t, "rl1077904129", barbie.MovieID)
	assert.Equal(t, "Barbie", barbie.Title)
	assert.Equal(t, 28, barbie.DayOffset)
	assert.Equal(t, boxoffice.DailyObservation{Rank: 1, Revenue: 3875483}, barbie.Observation)
	assert.Equal(t, 4178, barbie.TheaterCount)
	require.NotNil(t, barbie.Distributor)
	assert.Equal(t, "Warner Bros.", *barbie.Distributor)
	require.NotNil(t, barbie.ReleaseDate)
	assert.Equal(t, civil.Date{Year: 2023, Month: 7, Day: 21}, *barbie.ReleaseDate)

	turtles := rows[1]
	assert.Equal(t, boxoffice.UnknownTheaterCount, turtles.TheaterCount)
	assert.Nil(t, turtles.Distributor)
	assert.Equal(t, civil.Date{Year: 2023, Month: 8, Day: 2}, *turtles.ReleaseDate)
}

func TestParseRanking_EmptyAndMissingTable(t *testing.T) {
	t.Parallel()

	d := civil.Date{Year: 2024, Month: 1, Day: 1}
	rows, skipped, err := parseRanking(mustDoc(t, `<div id="table"><table><tr><th>Rank</th></tr></table></div>`), d)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, skipped)

	_, _, err = parseRanking(mustDoc(t, `<p>maintenance</p>`), d)
	require.ErrorIs(t, err, boxoffice.ErrParse)
}

func TestParseMovie(t *testing.T) {
	t.Parallel()

	movie, skipped, err := parseMovie(mustDoc(t, releaseHTML), "rl1077904129")
	require.NoError(t, err)
	require.Len(t, skipped, 1)

	assert.Equal(t, "rl1077904129", movie.ID)
	assert.Equal(t, "Barbie", movie.Title)
	require.NotNil(t, movie.Distributor)
	assert.Equal(t, "Warner Bros.", *movie.Distributor)
	require.NotNil(t, movie.ReleaseDate)
	assert.Equal(t, civil.Date{Year: 2023, Month: 7, Day: 21}, *movie.ReleaseDate)
	assert.Equal(t, 4243, movie.TheaterCount)
	assert.Equal(t, boxoffice.RevenueSeries{
		1: {Rank: 1, Revenue: 70503178},
		2: {Rank: 1, Revenue: 47843021},
	}, movie.Revenues)
}

func TestParseMovie_MissingTitle(t *testing.T) {
	t.Parallel()

	_, _, err := parseMovie(mustDoc(t, `<html><body></body></html>`), "rl1")
	require.ErrorIs(t, err, boxoffice.ErrParse)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	money, err := parseMoney(" $3,875,483 ")
	require.NoError(t, err)
	assert.EqualValues(t, 3875483, money)
	_, err = parseMoney("-")
	require.ErrorIs(t, err, boxoffice.ErrParse)

	count, err := parseCount("4,178")
	require.NoError(t, err)
	assert.Equal(t, 4178, count)

	id, ok := releaseID("/release/rl1077904129/?ref_=bo_di_table_1")
	require.True(t, ok)
	assert.Equal(t, "rl1077904129", id)
	_, ok = releaseID("/title/tt1517268/")
	assert.False(t, ok)
}
