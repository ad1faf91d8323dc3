package main

import (
	"context"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"go.uber.org/zap"
	"nyiyui.ca/hato/fmu/bus"
	"nyiyui.ca/hato/fmu/status"
	"nyiyui.ca/hato/fmu/vehicle"
)

// startBuzzer plays indication changes on the host speaker until ctx is done.
func startBuzzer(ctx context.Context, t *vehicle.Topics) error {
	sr := beep.SampleRate(44100)
	err := speaker.Init(sr, sr.N(time.Second/10))
	if err != nil {
		return err
	}
	b := status.NewBuzzer(sr, func(s beep.Streamer) {
		speaker.Clear()
		speaker.Play(s)
	})
	c := make(chan bus.Message[status.Pattern], 8)
	t.Indication.Subscribe("buzzer", c)
	go func() {
		defer t.Indication.Unsubscribe(c)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-c:
				if tune := b.Show(m.Value); tune != nil {
					zap.S().Debugw("buzzer", "pattern", m.Value, "length", tune.Length())
				}
			}
		}
	}()
	return nil
}
