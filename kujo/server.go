// Package kujo is the ground link. Telemetry leaves as server-sent events,
// operator input arrives as JSON and is published on the vehicle's bus.
package kujo

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"go.uber.org/zap"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/blackbox"
	"nyiyui.ca/hato/fmu/bus"
	"nyiyui.ca/hato/fmu/param"
	"nyiyui.ca/hato/fmu/vehicle"
)

// Streams lists the telemetry streams served under /events?stream=.
var Streams = []string{"state", "health", "mode", "actuator", "setpoint", "land", blackbox.BootTopic}

type Conf struct {
	Topics *vehicle.Topics
	// Store backs /params. Without it /params is not served.
	Store *param.Store
	// Boot is replayed to every client of the boot stream.
	Boot *blackbox.BootLog
	// Interval throttles the fast streams (state, actuator, setpoint).
	Interval time.Duration
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
	// Now stamps operator input. It defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	conf    Conf
	s       *sse.Server
	mux     *http.ServeMux
	handler http.Handler
	log     *zap.SugaredLogger

	forwards []func(ctx context.Context)
}

func NewServer(conf Conf) *Server {
	if conf.Now == nil {
		conf.Now = time.Now
	}
	s := &Server{
		conf: conf,
		s:    sse.New(),
		mux:  http.NewServeMux(),
		log:  zap.S().With("task", "kujo"),
	}
	// Only the boot stream is worth replaying; the rest are live values.
	s.s.AutoReplay = false
	t := conf.Topics
	forward(s, "state", t.State, conf.Interval)
	forward(s, "health", t.Health, 0)
	forward(s, "mode", t.Mode, 0)
	forward(s, "actuator", t.Actuator, conf.Interval)
	forward(s, "setpoint", t.Setpoint, conf.Interval)
	forward(s, "land", t.Land, 0)
	boot := s.s.CreateStream(blackbox.BootTopic)
	boot.AutoReplay = true

	s.mux.Handle("/events", s.s)
	s.mux.HandleFunc("/command", s.handleCommand)
	s.mux.HandleFunc("/pilot", s.handlePilot)
	s.mux.HandleFunc("/mission", s.handleMission)
	if conf.Store != nil {
		s.mux.HandleFunc("/params", s.handleParams)
		s.mux.HandleFunc("/params/", s.handleParam)
	}
	origins := conf.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// forward republishes t on the stream name, at most once per interval.
func forward[T Value](s *Server, name string, t *bus.Topic[T], interval time.Duration) {
	s.s.CreateStream(name)
	c := make(chan bus.Message[T], 16)
	t.Subscribe("kujo "+name, c)
	s.forwards = append(s.forwards, func(ctx context.Context) {
		defer t.Unsubscribe(c)
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-c:
				if interval > 0 && !last.IsZero() && m.Stamp.Time.Sub(last) < interval {
					continue
				}
				last = m.Stamp.Time
				data, err := json.Marshal(m.Value)
				if err != nil {
					s.log.Errorw("marshal json", "stream", name, "err", err)
					continue
				}
				s.s.TryPublish(name, &sse.Event{Data: data})
			}
		}
	})
}

// Run forwards telemetry until ctx is done. The boot log is published once,
// when Run starts.
func (s *Server) Run(ctx context.Context) {
	if s.conf.Boot != nil {
		entries, _ := s.conf.Boot.Entries()
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			s.s.Publish(blackbox.BootTopic, &sse.Event{Data: data})
		}
	}
	var wg sync.WaitGroup
	for _, f := range s.forwards {
		wg.Add(1)
		go func(f func(context.Context)) {
			defer wg.Done()
			f(ctx)
		}(f)
	}
	wg.Wait()
	s.s.Close()
}
