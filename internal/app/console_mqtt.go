package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rokoter/LinuxCNC/internal/config"
)

func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("console: MQTT_BROKER is not configured")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	subs := []struct {
		topic  string
		format func([]byte) (string, error)
	}{
		{cfg.TopicData, formatDataPayload},
		{cfg.TopicEvent, formatEventPayload},
		{cfg.TopicStatus, formatStatusPayload},
		{cfg.TopicEStopTrigger, formatTriggerPayload},
		{cfg.TopicHostStatus, formatHostStatePayload},
	}
	for _, s := range subs {
		s := s
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := s.format(msg.Payload())
			if err != nil {
				log.Printf("console: %s unmarshal error: %v", s.topic, err)
				return
			}
			fmt.Println(line)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	return nil
}

func formatDataPayload(b []byte) (string, error) {
	var d dataMessage
	if err := json.Unmarshal(b, &d); err != nil {
		return "", err
	}
	return fmt.Sprintf("[DATA]  t=%8dms  ax=%7.3f ay=%7.3f az=%7.3f  |a|=%6.3f g  %s",
		d.Timestamp, d.Accel.X, d.Accel.Y, d.Accel.Z, d.Magnitude, d.Status), nil
}

func formatEventPayload(b []byte) (string, error) {
	var e eventMessage
	if err := json.Unmarshal(b, &e); err != nil {
		return "", err
	}
	prefix := "[EVENT]"
	if e.EStop {
		prefix = "[ESTOP]"
	}
	return fmt.Sprintf("%s %s -> %s  %.3f g  %s", prefix, e.From, e.Level, e.Magnitude, e.Reason), nil
}

func formatStatusPayload(b []byte) (string, error) {
	var s statusMessage
	if err := json.Unmarshal(b, &s); err != nil {
		return "", err
	}
	return fmt.Sprintf("[STAT]  %s  up=%.0fs  peak=%.3f g  rms=%.3f g  rx=%d dropped=%d faults=%d",
		s.Status, s.Uptime, s.Peak, s.RMS, s.Received, s.Dropped, s.Faults), nil
}

func formatTriggerPayload(b []byte) (string, error) {
	var t estopTrigger
	if err := json.Unmarshal(b, &t); err != nil {
		return "", err
	}
	return fmt.Sprintf("[TRIG]  E-stop relayed by host at %s (%.3f g)", t.At.Format("15:04:05.000"), t.Magnitude), nil
}

func formatHostStatePayload(b []byte) (string, error) {
	var h hostState
	if err := json.Unmarshal(b, &h); err != nil {
		return "", err
	}
	link := "up"
	if !h.Connected {
		link = "DOWN"
	}
	return fmt.Sprintf("[HOST]  link=%s  %s  cur=%.3f g  peak=%.3f g  rms=%.3f g", link, h.Status, h.Current, h.Peak, h.RMS), nil
}
