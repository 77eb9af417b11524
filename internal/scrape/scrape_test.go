package scrape

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
)

// fakeSession serves canned HTML keyed by URL.
type fakeSession struct {
	mu     sync.Mutex
	pages  map[string]string
	err    error
	visits []string
	opts   []browser.VisitOptions
}

func (f *fakeSession) Visit(_ context.Context, url string, opts browser.VisitOptions) (*browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append(f.visits, url)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	html, ok := f.pages[url]
	if !ok {
		return nil, errors.New("no such page")
	}
	return &browser.Page{URL: url, HTML: html, StatusCode: 200}, nil
}

func (f *fakeSession) Close() error { return nil }

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+91 98200-12345", "+919820012345"},
		{"098200 12345", "09820012345"},
		{"(022) 2640 1234", "02226401234"},
		{"call 98+20", "9820"},
		{"", model.PhoneNotAvailable},
		{"   ", model.PhoneNotAvailable},
		{"N/A", model.PhoneNotAvailable},
		{"+", model.PhoneNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestParseRatingAndCount(t *testing.T) {
	assert.InDelta(t, 4.3, parseRating("4.3"), 0.001)
	assert.InDelta(t, 4.5, parseRating("4.5 stars 127 Reviews"), 0.001)
	assert.InDelta(t, 5.0, parseRating("9.1"), 0.001)
	assert.Zero(t, parseRating("no rating"))

	assert.Equal(t, 1234, parseCount("(1,234 Ratings)"))
	assert.Equal(t, 87, parseCount("87 votes"))
	assert.Zero(t, parseCount("none"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "new-delhi", slug("New Delhi"))
	assert.Equal(t, "dentists", slug(" Dentists "))
	assert.Equal(t, "car-repair-and-service", slug("Car Repair & Service"))
	assert.Equal(t, "bar-and-grill", slug("Bar & Grill"))
	assert.Equal(t, "randd", slug("R&D"))
}

const justdialHTML = `<html><body>
<div class="resultbox">
  <h2 class="jcn"><a href="/mumbai/sharma-dental">Sharma Dental Care</a></h2>
  <span class="green-box">4.4</span>
  <span class="rt_count">1,203 Ratings</span>
  <a class="mobilesv" data-phone="+91 98200 12345">Call</a>
  <span class="cont_fl_addr">12 Linking Rd, Bandra West</span>
  <a data-icon="website" href="https://sharmadental.in">Website</a>
</div>
<div class="resultbox">
  <h2 class="jcn"><a>Smile Studio</a></h2>
  <span class="phone">Phone: 022 2640 1234</span>
  <span class="wbsite"><a href="http://smilestudio.example"><i class="icon-wbb"></i></a></span>
</div>
<div class="resultbox">
  <h2 class="jcn"><a>Abc</a></h2>
</div>
<div class="resultbox">
  <h2 class="jcn"><a>Justdial Verified Listings</a></h2>
</div>
<div class="resultbox">
  <h2 class="jcn"><a>Bright Teeth Clinic</a></h2>
  <p>Reach us at 9876543210 any time</p>
</div>
<div class="resultbox">
  <h2 class="jcn"><a>Quiet Dental Lounge</a></h2>
</div>
</body></html>`

func TestParseJustdial(t *testing.T) {
	got, err := ParseJustdial(justdialHTML, "https://www.justdial.com/mumbai/dentists", "Mumbai")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, model.Candidate{
		Name:    "Sharma Dental Care",
		Phone:   "+919820012345",
		Address: "12 Linking Rd, Bandra West",
		Rating:  4.4,
		Reviews: 1203,
		Website: "https://sharmadental.in",
		Source:  SourceJustdial,
	}, got[0])

	assert.Equal(t, "Smile Studio", got[1].Name)
	assert.Equal(t, "02226401234", got[1].Phone)
	assert.Equal(t, "Mumbai", got[1].Address)
	assert.Equal(t, "http://smilestudio.example", got[1].Website)

	assert.Equal(t, "Bright Teeth Clinic", got[2].Name)
	assert.Equal(t, "9876543210", got[2].Phone)

	assert.Equal(t, "Quiet Dental Lounge", got[3].Name)
	assert.Equal(t, model.PhoneNotAvailable, got[3].Phone)
	assert.Empty(t, got[3].Website)
}

func TestParseJustdial_AttributeContainers(t *testing.T) {
	html := `<div data-business-name="Patel Hardware Store" data-phone="9123456780" data-address="Station Rd, Andheri"></div>`
	got, err := ParseJustdial(html, "https://www.justdial.com/mumbai/hardware", "Mumbai")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Patel Hardware Store", got[0].Name)
	assert.Equal(t, "9123456780", got[0].Phone)
	assert.Equal(t, "Station Rd, Andheri", got[0].Address)
}

func TestParseJustdial_NoListings(t *testing.T) {
	got, err := ParseJustdial(`<html><body><p>nothing</p></body></html>`, "", "Pune")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJustdialSource_Search(t *testing.T) {
	src := NewJustdialSource("https://jd.test/")
	target := "https://jd.test/new-delhi/dentists"
	assert.Equal(t, target, src.SearchURL("Dentists", "New Delhi"))
	assert.Equal(t, "https://jd.test/new-delhi/bar-and-grill", src.SearchURL("Bar & Grill", "New Delhi"))

	sess := &fakeSession{pages: map[string]string{target: justdialHTML}}
	got, err := src.Search(context.Background(), sess, "Dentists", "New Delhi")
	require.NoError(t, err)
	assert.Len(t, got, 4)
	require.Len(t, sess.opts, 1)
	assert.Equal(t, justdialSettle, sess.opts[0].MinSettle)
}

func TestJustdialSource_Unavailable(t *testing.T) {
	sess := &fakeSession{err: browser.ErrBlocked}
	got, err := NewJustdialSource("").Search(context.Background(), sess, "Dentists", "Mumbai")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

const mapsHTML = `<div role="feed">
<div role="article" aria-label="Sunrise Family Dental">
  <a href="https://www.google.com/maps/place/sunrise"></a>
  <div class="qBF1Pd fontHeadlineSmall">Sunrise Family Dental</div>
  <span role="img" aria-label="4.6 stars 212 Reviews"></span>
  <div class="fontBodyMedium">Dental clinic · 4 MG Road, Indiranagar, Bengaluru</div>
  <div class="fontBodyMedium">Open · <span class="UsdlK">080 4123 4567</span></div>
  <a data-value="Website" href="https://sunrisedental.example/"></a>
</div>
<div role="article" aria-label="Corner Tooth Care">
  <a href="https://www.google.com/maps/place/corner"></a>
  <span role="img" aria-label="3.9 stars"></span>
  <span class="UY7F9">(18)</span>
  <a href="tel:+918041112222"></a>
  <a href="https://cornertooth.example/home"></a>
</div>
<div role="article" aria-label="X">
</div>
</div>`

func TestParseGoogleMaps(t *testing.T) {
	got, err := ParseGoogleMaps(mapsHTML, "https://www.google.com/maps/search/dentist", "Bengaluru")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.Candidate{
		Name:    "Sunrise Family Dental",
		Phone:   "08041234567",
		Address: "4 MG Road, Indiranagar, Bengaluru",
		Rating:  4.6,
		Reviews: 212,
		Website: "https://sunrisedental.example/",
		Source:  SourceGoogleMaps,
		HasGBP:  true,
	}, got[0])

	assert.Equal(t, "Corner Tooth Care", got[1].Name)
	assert.InDelta(t, 3.9, got[1].Rating, 0.001)
	assert.Equal(t, 18, got[1].Reviews)
	assert.Equal(t, "Bengaluru", got[1].Address)
	assert.Equal(t, "https://cornertooth.example/home", got[1].Website)
	assert.True(t, got[1].HasGBP)
}

func TestMapsSource_Search(t *testing.T) {
	src := NewMapsSource("https://maps.test", 0)
	target := src.SearchURL("dentist", "Bengaluru")
	assert.Equal(t, "https://maps.test/maps/search/dentist%20in%20Bengaluru", target)

	sess := &fakeSession{pages: map[string]string{target: mapsHTML}}
	got, err := src.Search(context.Background(), sess, "dentist", "Bengaluru")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.Len(t, sess.opts, 1)
	assert.Equal(t, defaultScrolls, sess.opts[0].Scrolls)
	assert.Equal(t, mapsFeed, sess.opts[0].ScrollSelector)
	assert.Equal(t, mapsSettle, sess.opts[0].MinSettle)
}

func TestDedupe(t *testing.T) {
	in := []model.Candidate{
		{Name: "Sharma Dental", Phone: "+919820012345", Source: "a"},
		{Name: "sharma  dental", Phone: "919820012345", Source: "b"},
		{Name: "Sharma Dental", Phone: "9820099999", Source: "c"},
		{Name: "A B", Phone: "1"},
		{Name: "Abcd", Phone: model.PhoneNotAvailable},
		{Name: "ABCD", Phone: model.PhoneNotAvailable},
	}
	got := Dedupe(in)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Source)
	assert.Equal(t, "c", got[1].Source)
	assert.Equal(t, "Abcd", got[2].Name)
}

func TestDedupe_Deterministic(t *testing.T) {
	in := []model.Candidate{
		{Name: "Green Leaf Cafe", Phone: "1"},
		{Name: "Blue Door Bistro", Phone: "2"},
		{Name: "green leaf cafe", Phone: "1"},
	}
	assert.Equal(t, Dedupe(in), Dedupe(in))
	assert.Empty(t, Dedupe(nil))
}

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "sharmadental919820012345",
		DedupeKey(model.Candidate{Name: " Sharma Dental ", Phone: "+91 98200 12345"}))
	assert.Equal(t, "abcd", DedupeKey(model.Candidate{Name: "AB CD", Phone: model.PhoneNotAvailable}))
}
