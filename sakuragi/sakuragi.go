// Package sakuragi serves a status page for whoever stands next to the vehicle.
package sakuragi

import (
	"embed"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/rs/cors"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/vehicle"
)

//go:embed index.html
var templates embed.FS

type Conf struct {
	Topics *vehicle.Topics
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	conf    Conf
	t       *template.Template
	handler http.Handler
	log     *zap.SugaredLogger
}

type healthRow struct {
	Source   HealthSource
	Severity Severity
}

func New(conf Conf) *Server {
	if conf.Now == nil {
		conf.Now = time.Now
	}
	s := &Server{
		conf: conf,
		log:  zap.S().With("task", "sakuragi"),
	}
	s.t = template.Must(template.New("index").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
		"deg": func(rad float64) float64 { return rad * 180 / math.Pi },
		"euler": func(q Quat) []float64 {
			r, p, y := q.Euler()
			return []float64{r, p, y}
		},
		"severityClass": func(sev Severity) string {
			switch sev {
			case SeverityOK:
				return "ok"
			case SeverityWarning:
				return "warn"
			default:
				return "bad"
			}
		},
	}).ParseFS(templates, "*.html"))
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	s.handler = cors.Default().Handler(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	t := s.conf.Topics
	mode, _, haveMode := t.Mode.Latest()
	state, _, haveState := t.State.Latest()
	health, _, _ := t.Health.Latest()
	land, _, haveLand := t.Land.Latest()
	act, _, _ := t.Actuator.Latest()
	pattern, _, havePattern := t.Indication.Latest()

	rows := make([]healthRow, NumHealthSources)
	for i := range rows {
		rows[i] = healthRow{Source: HealthSource(i), Severity: health.Flags[i]}
	}
	worstSource, worst := health.Worst()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.t.ExecuteTemplate(w, "index", map[string]interface{}{
		"now":         s.conf.Now(),
		"mode":        mode,
		"haveMode":    haveMode,
		"state":       state,
		"haveState":   haveState,
		"health":      rows,
		"worst":       worst,
		"worstSource": worstSource,
		"land":        land,
		"haveLand":    haveLand,
		"act":         act,
		"pattern":     pattern,
		"havePattern": havePattern,
	})
	if err != nil {
		s.log.Errorw("render", "err", err)
	}
}
