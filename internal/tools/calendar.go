package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

const calendarDateLayout = "2006-01-02"

// learningTracks is the fixed allow-list of daily learning cycles.
var learningTracks = map[string]struct{}{
	"Daf Yomi":                {},
	"Yerushalmi Yomi":         {},
	"Daily Mishnah":           {},
	"Daily Rambam":            {},
	"Daily Rambam (3 Chapters)": {},
	"Tanakh Yomi":             {},
	"Tanya Yomi":              {},
	"Halakhah Yomit":          {},
	"Arukh HaShulchan Yomi":   {},
	"Chok LeYisrael":          {},
}

func parseDateArg(args map[string]any, key string) (time.Time, error) {
	s := stringArg(args, key)
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(calendarDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %q must be YYYY-MM-DD", key)
	}
	return t.UTC(), nil
}

func diasporaArg(args map[string]any) *bool {
	if b, ok := args["diaspora"].(bool); ok {
		return &b
	}
	return nil
}

// diasporaKey renders the tri-state diaspora flag for cache keys.
func diasporaKey(d *bool) string {
	if d == nil {
		return "default"
	}
	if *d {
		return "diaspora"
	}
	return "israel"
}

func (d *Deps) calendarsForDay(ctx context.Context, day time.Time, diaspora *bool, custom, timezone string) (*sefaria.CalendarsResponse, error) {
	return d.Client.Calendars(ctx, sefaria.CalendarsParams{
		Year:     day.Year(),
		Month:    int(day.Month()),
		Day:      day.Day(),
		Diaspora: diaspora,
		Custom:   custom,
		Timezone: timezone,
	})
}

func calendarItemRow(ci sefaria.CalendarItem) map[string]any {
	row := map[string]any{
		"title":        map[string]any{"en": ci.Title.En, "he": ci.Title.He},
		"displayValue": map[string]any{"en": ci.DisplayValue.En, "he": ci.DisplayValue.He},
	}
	if ci.Ref != "" {
		row["ref"] = ci.Ref
		row["url"] = sefaria.RefURL(ci.Ref)
	}
	if ci.HeRef != "" {
		row["heRef"] = ci.HeRef
	}
	if ci.Category != "" {
		row["category"] = ci.Category
	}
	if ci.Order != 0 {
		row["order"] = ci.Order
	}
	return row
}

func dailyLearningsTool(d *Deps) *Tool {
	return &Tool{
		Name:        "get_daily_learnings",
		Description: "Return the reading calendar and daily learning cycles for one day.",
		InputSchema: obj(map[string]any{
			"date":     str("Day to fetch, YYYY-MM-DD (default today)"),
			"diaspora": boolean("Diaspora reading schedule (default upstream)"),
			"custom":   str("Rite custom, e.g. ashkenazi or sephardi"),
			"timezone": str("IANA timezone for day boundaries"),
		}),
		OutputSchema: obj(map[string]any{
			"schedule": obj(map[string]any{
				"date":           str("Resolved date"),
				"timezone":       str("Resolved timezone"),
				"calendar_items": arr(obj(map[string]any{}), "Calendar entries"),
			}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			day, err := parseDateArg(args, "date")
			if err != nil {
				return nil, err
			}
			diaspora := diasporaArg(args)
			custom := stringArg(args, "custom")
			timezone := stringArg(args, "timezone")

			key := cacheKey("get_daily_learnings", day.Format(calendarDateLayout), diasporaKey(diaspora), custom, timezone)
			return d.cached(ttlCalendar, key, func() (map[string]any, error) {
				resp, err := d.calendarsForDay(ctx, day, diaspora, custom, timezone)
				if err != nil {
					return nil, err
				}
				items := make([]any, 0, len(resp.CalendarItems))
				for _, ci := range resp.CalendarItems {
					items = append(items, calendarItemRow(ci))
				}
				date := resp.Date
				if date == "" {
					date = day.Format(calendarDateLayout)
				}
				return map[string]any{
					"schedule": map[string]any{
						"date":           date,
						"timezone":       resp.Timezone,
						"calendar_items": items,
					},
				}, nil
			})
		},
	}
}

func parshaPackTool(d *Deps) *Tool {
	return &Tool{
		Name:        "parsha_pack",
		Description: "Assemble the weekly portion: parsha, haftarot, highlights, and learning tracks.",
		InputSchema: obj(map[string]any{
			"date":                  str("Day to anchor the week, YYYY-MM-DD (default today)"),
			"diaspora":              boolean("Diaspora reading schedule"),
			"custom":                str("Rite custom"),
			"timezone":              str("IANA timezone"),
			"includeAliyot":         boolean("Include the aliyah breakdown"),
			"includeLearningTracks": boolean("Include the daily learning cycles (default true)"),
			"limitLearningTracks":   num("Learning tracks kept (max 12)"),
		}),
		OutputSchema: obj(map[string]any{
			"date": str("Resolved date"),
			"parsha": obj(map[string]any{
				"nameEn": str("English name"),
				"nameHe": str("Hebrew name"),
				"ref":    str("Torah reading reference"),
				"url":    str("Reader URL"),
			}),
			"haftarot":       arr(obj(map[string]any{}), "Haftarah readings"),
			"highlights":     arr(obj(map[string]any{}), "Other calendar highlights"),
			"learningTracks": arr(obj(map[string]any{}), "Daily learning cycles"),
			"metadata":       obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			day, err := parseDateArg(args, "date")
			if err != nil {
				return nil, err
			}
			diaspora := diasporaArg(args)
			custom := stringArg(args, "custom")
			timezone := stringArg(args, "timezone")
			includeAliyot := boolArg(args, "includeAliyot", false)
			includeTracks := boolArg(args, "includeLearningTracks", true)
			limitTracks, err := intArg(args, "limitLearningTracks", 12, 1, 12)
			if err != nil {
				return nil, err
			}

			key := cacheKey("parsha_pack", day.Format(calendarDateLayout), diasporaKey(diaspora), custom, timezone, includeAliyot, includeTracks, limitTracks)
			return d.cached(ttlCalendar, key, func() (map[string]any, error) {
				return d.buildParshaPack(ctx, day, diaspora, custom, timezone, includeAliyot, includeTracks, limitTracks)
			})
		},
	}
}

func (d *Deps) buildParshaPack(ctx context.Context, day time.Time, diaspora *bool, custom, timezone string, includeAliyot, includeTracks bool, limitTracks int) (map[string]any, error) {
	resp, err := d.calendarsForDay(ctx, day, diaspora, custom, timezone)
	if err != nil {
		return nil, err
	}

	var parshaItem *sefaria.CalendarItem
	for i := range resp.CalendarItems {
		if resp.CalendarItems[i].Title.En == "Parashat Hashavua" {
			parshaItem = &resp.CalendarItems[i]
			break
		}
	}
	if parshaItem == nil {
		return nil, fmt.Errorf("no Parashat Hashavua item in the calendar for %s", day.Format(calendarDateLayout))
	}

	parsha := map[string]any{
		"nameEn": parshaItem.DisplayValue.En,
		"nameHe": parshaItem.DisplayValue.He,
		"ref":    parshaItem.Ref,
		"url":    sefaria.RefURL(parshaItem.Ref),
	}
	if parshaItem.HeRef != "" {
		parsha["heRef"] = parshaItem.HeRef
	}
	if includeAliyot {
		if aliyot := parshaItem.Aliyot(); len(aliyot) > 0 {
			parsha["aliyot"] = aliyot
		}
	}

	reserved := map[string]struct{}{"Parashat Hashavua": {}}
	var haftarot []any
	for _, ci := range resp.CalendarItems {
		if strings.HasPrefix(ci.Title.En, "Haftarah") {
			reserved[ci.Title.En] = struct{}{}
			row := map[string]any{"title": ci.Title.En, "ref": ci.Ref}
			if ci.Ref != "" {
				row["url"] = sefaria.RefURL(ci.Ref)
			}
			if ci.DisplayValue.En != "" {
				row["displayValue"] = ci.DisplayValue.En
			}
			haftarot = append(haftarot, row)
		}
	}

	var highlights, tracks []any
	for _, ci := range resp.CalendarItems {
		if _, skip := reserved[ci.Title.En]; skip {
			continue
		}
		if ci.DisplayValue.En == "" {
			continue
		}
		if _, isTrack := learningTracks[ci.Title.En]; isTrack {
			if includeTracks && len(tracks) < limitTracks {
				row := map[string]any{
					"title":        ci.Title.En,
					"displayValue": ci.DisplayValue.En,
					"ref":          ci.Ref,
				}
				if ci.Ref != "" {
					row["url"] = sefaria.RefURL(ci.Ref)
				}
				tracks = append(tracks, row)
			}
			continue
		}
		highlights = append(highlights, calendarItemRow(ci))
	}

	date := resp.Date
	if date == "" {
		date = day.Format(calendarDateLayout)
	}
	out := map[string]any{
		"date":       date,
		"parsha":     parsha,
		"haftarot":   haftarot,
		"highlights": highlights,
		"metadata": map[string]any{
			"itemCount": len(resp.CalendarItems),
			"timezone":  resp.Timezone,
		},
	}
	if includeTracks {
		out["learningTracks"] = tracks
	}
	return out, nil
}

// ---- calendar_insights ----

const insightDays = 7

var itemClassifiers = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"parsha", regexp.MustCompile(`(?i)\bparashat\b|\bparsha\b`)},
	{"haftarah", regexp.MustCompile(`(?i)\bhaftarah\b`)},
	{"rosh_chodesh", regexp.MustCompile(`(?i)\brosh chodesh\b`)},
	{"fast", regexp.MustCompile(`(?i)\bfast\b|\btzom\b|\bta'?anit\b|\byom kippur\b`)},
	{"shabbat", regexp.MustCompile(`(?i)\bshabbat\b|\bcandle lighting\b|\bhavdalah\b`)},
	{"chag", regexp.MustCompile(`(?i)\bchag\b|\byom tov\b|\bfestival\b|\bpesach\b|\bpassover\b|\bsukkot\b|\bshavuot\b|\brosh hashanah\b|\bchanukah\b|\bhanukkah\b|\bpurim\b`)},
	{"daf", regexp.MustCompile(`(?i)\bdaf\b`)},
}

// classifyItem maps a calendar item to one alert type via its English title
// and category.
func classifyItem(ci sefaria.CalendarItem) string {
	haystack := ci.Title.En + " " + ci.Category
	for _, c := range itemClassifiers {
		if c.re.MatchString(haystack) {
			return c.tag
		}
	}
	return "other"
}

// halachaChecklists is the fixed preparation checklist per alert type.
var halachaChecklists = map[string][]string{
	"shabbat":      {"Candle lighting", "Eruv check", "Food prep", "Havdalah"},
	"fast":         {"Start/End times", "Health exemptions", "Hydration plan"},
	"chag":         {"Kiddush/Challah", "Eruv Tavshilin (if chag→Shabbat)", "Hallel"},
	"rosh_chodesh": {"Ya'aleh V'Yavo", "Hallel (partial/full)"},
}

func calendarInsightsTool(d *Deps) *Tool {
	return &Tool{
		Name:        "calendar_insights",
		Description: "Classify the coming week's calendar into actionable alerts with checklists.",
		InputSchema: obj(map[string]any{
			"startDate":             str("First day, YYYY-MM-DD (default today, UTC)"),
			"diaspora":              boolean("Diaspora reading schedule"),
			"includeLearningTracks": boolean("Keep daily learning cycle items (default true)"),
			"interests":             arr(str("Tag"), "Retain only items whose type contains a listed tag"),
			"timezone":              str("IANA timezone"),
		}),
		OutputSchema: obj(map[string]any{
			"alerts": arr(obj(map[string]any{
				"date":  str("Day"),
				"items": arr(obj(map[string]any{}), "Classified items"),
			}), "One entry per day, in order"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			start, err := parseDateArg(args, "startDate")
			if err != nil {
				return nil, err
			}
			start = start.Truncate(24 * time.Hour)
			diaspora := diasporaArg(args)
			includeTracks := boolArg(args, "includeLearningTracks", true)
			interests := stringSliceArg(args, "interests")
			timezone := stringArg(args, "timezone")

			key := cacheKey("calendar_insights", start.Format(calendarDateLayout), diasporaKey(diaspora), includeTracks, interests, timezone)
			return d.cached(ttlCalendar, key, func() (map[string]any, error) {
				return d.buildCalendarInsights(ctx, start, diaspora, includeTracks, interests, timezone)
			})
		},
	}
}

func (d *Deps) buildCalendarInsights(ctx context.Context, start time.Time, diaspora *bool, includeTracks bool, interests []string, timezone string) (map[string]any, error) {
	days := make([]*sefaria.CalendarsResponse, insightDays)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < insightDays; i++ {
		i := i
		g.Go(func() error {
			resp, err := d.calendarsForDay(gctx, start.AddDate(0, 0, i), diaspora, "", timezone)
			if err != nil {
				return err
			}
			days[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lowered := make([]string, len(interests))
	for i, tag := range interests {
		lowered[i] = strings.ToLower(tag)
	}

	alerts := make([]any, 0, insightDays)
	total := 0
	for i, resp := range days {
		date := start.AddDate(0, 0, i).Format(calendarDateLayout)
		if resp.Date != "" {
			date = resp.Date
		}
		var items []any
		for _, ci := range resp.CalendarItems {
			typ := classifyItem(ci)
			if !includeTracks && typ == "daf" {
				continue
			}
			if !includeTracks {
				if _, isTrack := learningTracks[ci.Title.En]; isTrack {
					continue
				}
			}
			if len(lowered) > 0 && !matchesInterest(typ, lowered) {
				continue
			}
			item := map[string]any{"type": typ, "title": ci.Title.En}
			if ci.DisplayValue.En != "" {
				item["displayValue"] = ci.DisplayValue.En
			}
			if ci.Ref != "" {
				item["ref"] = ci.Ref
				item["url"] = sefaria.RefURL(ci.Ref)
			}
			if (typ == "parsha" || typ == "daf") && ci.Ref != "" {
				item["recommendedSources"] = []any{
					map[string]any{"ref": ci.Ref, "url": sefaria.RefURL(ci.Ref)},
				}
			}
			if checklist, ok := halachaChecklists[typ]; ok {
				item["halachaChecklist"] = checklist
			}
			items = append(items, item)
			total++
		}
		alerts = append(alerts, map[string]any{"date": date, "items": items})
	}

	return map[string]any{
		"alerts": alerts,
		"metadata": map[string]any{
			"startDate": start.Format(calendarDateLayout),
			"days":      insightDays,
			"itemCount": total,
		},
	}, nil
}

func matchesInterest(typ string, interests []string) bool {
	for _, tag := range interests {
		if tag != "" && strings.Contains(typ, tag) {
			return true
		}
	}
	return false
}
