package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"optfilter/pkg/instrument"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func testNow() time.Time {
	return time.Date(2026, time.October, 16, 10, 30, 0, 0, ist)
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func rec(t *testing.T, name string, expiry *int64, strike *float64, extra string) instrument.Record {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q`, name)
	if expiry != nil {
		body += fmt.Sprintf(`,"expiry":%d`, *expiry)
	}
	if strike != nil {
		body += fmt.Sprintf(`,"strike_price":%v`, *strike)
	}
	if extra != "" {
		body += "," + extra
	}
	body += "}"

	var r instrument.Record
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return r
}

func i64(v int64) *int64 { return &v }
func f64(v float64) *float64 { return &v }

func TestWindowAt(t *testing.T) {
	w := WindowAt(testNow())
	assert.Equal(t, time.Date(2026, time.October, 1, 0, 0, 0, 0, ist), w.Start)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, ist), w.End)

	// Month arithmetic from a 31st does not overflow: the window always starts on the 1st.
	w = WindowAt(time.Date(2027, time.January, 31, 23, 59, 0, 0, ist))
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, ist), w.Start)
	assert.Equal(t, time.Date(2027, time.April, 1, 0, 0, 0, 0, ist), w.End)
}

func TestWindow_Boundaries(t *testing.T) {
	w := WindowAt(testNow())
	start, end := ms(w.Start), ms(w.End)

	testCases := []struct {
		name   string
		expiry *int64
		want   bool
	}{
		{"missing", nil, false},
		{"before start", i64(start - 1), false},
		{"at start", i64(start), false},
		{"just after start", i64(start + 1), true},
		{"at end", i64(end), true},
		{"past end", i64(end + 1), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, w.Contains(tc.expiry))
		})
	}
}

func TestBand_Boundaries(t *testing.T) {
	b, err := NewBand(48250.35, 3000)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		strike *float64
		want   bool
	}{
		{"missing", nil, false},
		{"at low", f64(45250.35), true},
		{"below low", f64(45250.34), false},
		{"at high", f64(51250.35), true},
		{"above high", f64(51250.36), false},
		{"reference", f64(48250.35), true},
		{"nan strike", f64(math.NaN()), false},
		{"infinite strike", f64(math.Inf(1)), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, b.Contains(tc.strike))
		})
	}
}

func TestBand_ComparesDecimals(t *testing.T) {
	// 0.1 + 0.2 is 0.30000000000000004 as a float64, just above the exact high of 0.3.
	b, err := NewBand(0.1, 0.2)
	require.NoError(t, err)
	assert.Equal(t, "0.3", b.High.String())
	x, y := 0.1, 0.2
	assert.True(t, b.Contains(f64(0.3)))
	assert.False(t, b.Contains(f64(x+y)))
}

func TestNewBand_NonFinite(t *testing.T) {
	testCases := []struct {
		name      string
		reference float64
		radius    float64
	}{
		{"nan reference", math.NaN(), 3000},
		{"infinite reference", math.Inf(-1), 3000},
		{"nan radius", 48000, math.NaN()},
		{"infinite radius", 48000, math.Inf(1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBand(tc.reference, tc.radius)
			assert.ErrorIs(t, err, ErrNonFinite)
		})
	}
}

func TestPipeline_NonFiniteReferenceMatchesNothing(t *testing.T) {
	now := testNow()
	inside := ms(WindowAt(now).Start) + 1
	records := []instrument.Record{rec(t, "BANKNIFTY", &inside, f64(48000), "")}

	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 3000}, zaptest.NewLogger(t))
	for _, ref := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		var out []instrument.Record
		var stats Stats
		require.NotPanics(t, func() { out, stats = p.FilterWithStats(records, ref, now) })
		assert.NotNil(t, out)
		assert.Empty(t, out)
		assert.Equal(t, Stats{Input: 1}, stats)
	}

	wide := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: math.Inf(1)}, nil)
	assert.Empty(t, wide.Filter(records, 48000, now))
}

func TestPipeline_MatchName(t *testing.T) {
	p := New(Criteria{Names: []string{"BANKNIFTY", " nifty "}}, nil)

	assert.True(t, p.MatchName("banknifty"))
	assert.True(t, p.MatchName("BankNifty"))
	assert.True(t, p.MatchName("NIFTY"))
	assert.False(t, p.MatchName("FINNIFTY"))
	assert.False(t, p.MatchName(""))

	// Only ASCII letters fold.
	k := New(Criteria{Names: []string{"BANKNIFTY"}}, nil)
	assert.False(t, k.MatchName("BAN\u212aNIFTY"))
	assert.False(t, New(Criteria{Names: []string{"\u00e9"}}, nil).MatchName("\u00c9"))
}

func TestPipeline_EndToEndNameSelection(t *testing.T) {
	now := testNow()
	ref := 48000.0
	expiry := ms(time.Date(2026, time.November, 25, 15, 30, 0, 0, ist))

	records := []instrument.Record{
		rec(t, "BANKNIFTY", &expiry, &ref, ""),
		rec(t, "NIFTY", &expiry, &ref, ""),
	}

	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 3000}, zaptest.NewLogger(t))
	out := p.Filter(records, ref, now)

	require.Len(t, out, 1)
	assert.Equal(t, "BANKNIFTY", out[0].Name)
	assert.Equal(t, records[0].Raw(), out[0].Raw())
}

func TestPipeline_AllPredicatesRequired(t *testing.T) {
	now := testNow()
	w := WindowAt(now)
	ref := 48000.0
	inside := ms(w.Start) + 1

	records := []instrument.Record{
		rec(t, "BANKNIFTY", &inside, f64(48000), `"id":"ok"`),
		rec(t, "NIFTY", &inside, f64(48000), `"id":"wrong name"`),
		rec(t, "BANKNIFTY", i64(ms(w.End)+1), f64(48000), `"id":"late"`),
		rec(t, "BANKNIFTY", &inside, f64(51001), `"id":"far strike"`),
		rec(t, "BANKNIFTY", nil, f64(48000), `"id":"no expiry"`),
		rec(t, "BANKNIFTY", &inside, nil, `"id":"no strike"`),
	}

	p := New(Criteria{Names: []string{"banknifty"}, Radius: 3000}, nil)
	out, stats := p.FilterWithStats(records, ref, now)

	require.Len(t, out, 1)
	assert.Contains(t, string(out[0].Raw()), `"id":"ok"`)
	assert.Equal(t, Stats{Input: 6, NameInWindow: 3, Matched: 1}, stats)
}

func TestPipeline_SortedStableByExpiry(t *testing.T) {
	now := testNow()
	w := WindowAt(now)
	early := ms(w.Start) + 1000
	late := ms(w.End)

	records := []instrument.Record{
		rec(t, "BANKNIFTY", &late, f64(47000), `"seq":1`),
		rec(t, "BANKNIFTY", &early, f64(47000), `"seq":2`),
		rec(t, "BANKNIFTY", &late, f64(48000), `"seq":3`),
		rec(t, "BANKNIFTY", &early, f64(49000), `"seq":4`),
	}

	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 1000}, nil)
	out := p.Filter(records, 48000, now)

	require.Len(t, out, 4)
	var seqs []string
	for _, r := range out {
		var v struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(r.Raw(), &v))
		seqs = append(seqs, fmt.Sprint(v.Seq))
	}
	assert.Equal(t, []string{"2", "4", "1", "3"}, seqs)
}

func TestPipeline_Idempotent(t *testing.T) {
	now := testNow()
	w := WindowAt(now)

	var records []instrument.Record
	for i := 0; i < 20; i++ {
		e := ms(w.Start) + int64(i%5)*86_400_000 + 1
		records = append(records, rec(t, "BANKNIFTY", &e, f64(44000+float64(i)*500), fmt.Sprintf(`"seq":%d`, i)))
	}

	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 3000}, nil)
	once := p.Filter(records, 48000, now)
	twice := p.Filter(once, 48000, now)

	require.NotEmpty(t, once)
	assert.Equal(t, once, twice)
}

func TestPipeline_DoesNotModifyInput(t *testing.T) {
	now := testNow()
	w := WindowAt(now)
	a, b := ms(w.End), ms(w.Start)+1

	records := []instrument.Record{
		rec(t, "BANKNIFTY", &a, f64(48000), ""),
		rec(t, "BANKNIFTY", &b, f64(48000), ""),
	}
	before := append([]instrument.Record(nil), records...)

	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 3000}, nil)
	out := p.Filter(records, 48000, now)

	require.Len(t, out, 2)
	assert.Equal(t, before, records)
	assert.Equal(t, b, *out[0].Expiry)
}

func TestPipeline_EmptyInput(t *testing.T) {
	p := New(Criteria{Names: []string{"BANKNIFTY"}, Radius: 3000}, nil)
	out := p.Filter(nil, 48000, testNow())
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestSortByExpiry_MissingFirst(t *testing.T) {
	records := []instrument.Record{
		{Name: "a", Expiry: i64(5)},
		{Name: "b"},
		{Name: "c", Expiry: i64(1)},
		{Name: "d"},
	}

	SortByExpiry(records)

	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, names)
}
