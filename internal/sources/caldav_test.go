package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"famsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multistatusOpen = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`

const privatICS = "BEGIN:VCALENDAR\n" +
	"VERSION:2.0\n" +
	"PRODID:-//test//EN\n" +
	"BEGIN:VEVENT\n" +
	"UID:dentist-1\n" +
	"DTSTAMP:20250101T000000Z\n" +
	"DTSTART:20250305T170000Z\n" +
	"DTEND:20250305T180000Z\n" +
	"SUMMARY:Tandläkare\n" +
	"END:VEVENT\n" +
	"END:VCALENDAR\n"

// newCalDAVServer serves the discovery chain principal, home set and
// calendar list, and answers calendar-query REPORTs on the calendar.
func newCalDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svante" || pass != "app-password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body string
		switch {
		case r.Method == "PROPFIND" && r.URL.Path == "/":
			body = `<d:response><d:href>/</d:href><d:propstat><d:prop>
				<d:current-user-principal><d:href>/principals/svante/</d:href></d:current-user-principal>
				</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
		case r.Method == "PROPFIND" && r.URL.Path == "/principals/svante/":
			body = `<d:response><d:href>/principals/svante/</d:href><d:propstat><d:prop>
				<c:calendar-home-set><d:href>/calendars/svante/</d:href></c:calendar-home-set>
				</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
		case r.Method == "PROPFIND" && r.URL.Path == "/calendars/svante/":
			body = `<d:response><d:href>/calendars/svante/</d:href><d:propstat><d:prop>
				<d:resourcetype><d:collection/></d:resourcetype>
				</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>
				<d:response><d:href>/calendars/svante/privat/</d:href><d:propstat><d:prop>
				<d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
				<d:displayname>Privat</d:displayname>
				<c:supported-calendar-component-set><c:comp name="VEVENT"/></c:supported-calendar-component-set>
				</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
		case r.Method == "REPORT" && r.URL.Path == "/calendars/svante/privat/":
			body = `<d:response><d:href>/calendars/svante/privat/dentist-1.ics</d:href><d:propstat><d:prop>
				<c:calendar-data>` + privatICS + `</c:calendar-data>
				</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, multistatusOpen+body+`</d:multistatus>`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCalDAVCalendar_Events(t *testing.T) {
	ts := newCalDAVServer(t)

	cal, err := NewCalDAVCalendar(discardLogger(), config.CalDAVSource{
		Name:      "Svante (Privat)",
		Endpoint:  ts.URL + "/",
		Username:  "svante",
		Password:  "app-password",
		Calendar:  "Privat",
		Assignees: []string{"Svante"},
	}, ts.Client().Transport)
	require.NoError(t, err)

	events, err := cal.Events(context.Background(),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "dentist-1", ev.UID)
	assert.Equal(t, "Tandläkare", ev.Summary)
	assert.Equal(t, "Svante (Privat)", ev.Source)
	assert.Equal(t, []string{"Svante"}, ev.Assignees)
	assert.Equal(t, time.Date(2025, 3, 5, 17, 0, 0, 0, time.UTC), ev.Start.UTC())
}

func TestCalDAVCalendar_UnknownCalendar(t *testing.T) {
	ts := newCalDAVServer(t)

	cal, err := NewCalDAVCalendar(discardLogger(), config.CalDAVSource{
		Name:     "Svante (Jobb)",
		Endpoint: ts.URL + "/",
		Username: "svante",
		Password: "app-password",
		Calendar: "Jobb",
	}, ts.Client().Transport)
	require.NoError(t, err)

	_, err = cal.Events(context.Background(), time.Now(), time.Now().Add(time.Hour), time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Jobb")
}
