package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// alertThrottle suppresses repeats of the same transition, which a flapping
// link would otherwise produce every few seconds.
const alertThrottle = 15 * time.Second

// TelegramService sends sensor connectivity alerts to one chat. It implements
// StatusNotifier.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger

	mu             sync.Mutex
	lastAlertTimes map[string]time.Time // per reason
	offlineSince   time.Time
}

func NewTelegramService(token, chatID string, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	return &TelegramService{
		bot:            bot,
		chatID:         id,
		logger:         logger,
		lastAlertTimes: make(map[string]time.Time),
	}, nil
}

// NotifySensorEvent sends an offline or recovered alert.
func (ts *TelegramService) NotifySensorEvent(ev models.SensorEvent) {
	ts.mu.Lock()
	if last, ok := ts.lastAlertTimes[ev.Reason]; ok && ev.At.Sub(last) < alertThrottle {
		ts.mu.Unlock()
		ts.logger.Debug("Throttling sensor alert", zap.String("reason", ev.Reason))
		return
	}
	ts.lastAlertTimes[ev.Reason] = ev.At

	var downSince time.Time
	if ev.Connected {
		downSince = ts.offlineSince
		ts.offlineSince = time.Time{}
	} else {
		ts.offlineSince = ev.LastSeen
	}
	ts.mu.Unlock()

	if err := ts.SendStatusMessage(FormatSensorEvent(ev, downSince)); err != nil {
		ts.logger.Error("Failed to send sensor alert",
			zap.String("reason", ev.Reason),
			zap.Error(err))
		return
	}
	ts.logger.Info("Sent sensor alert",
		zap.Bool("connected", ev.Connected),
		zap.String("reason", ev.Reason))
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the relay starts
func (ts *TelegramService) SendStartupMessage(port string) error {
	message := "🟢 <b>MQ-7 Relay Started</b>\n\n" +
		fmt.Sprintf("🌐 Listening on port %s\n", port) +
		"📡 Waiting for the sensor to connect..."

	return ts.SendStatusMessage(message)
}

// FormatSensorEvent renders the alert text for a connectivity transition.
// downSince is when the sensor went offline, zero if unknown.
func FormatSensorEvent(ev models.SensorEvent, downSince time.Time) string {
	var sb strings.Builder

	if !ev.Connected {
		sb.WriteString("⚠️ <b>SENSOR OFFLINE</b> ⚠️\n\n")
		switch ev.Reason {
		case "timeout":
			sb.WriteString("📡 <b>Cause:</b> no data received\n")
		case "disconnect":
			sb.WriteString("🔌 <b>Cause:</b> connection closed\n")
		}
		sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", ev.LastSeen.Format("2006-01-02 15:04:05")))
		if silence := ev.At.Sub(ev.LastSeen); silence > 0 {
			sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n", formatDuration(silence)))
		}
		sb.WriteString("\n🔴 <b>Status:</b> SENSOR OFFLINE")
		return sb.String()
	}

	sb.WriteString("✅ <b>SENSOR ONLINE</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("🕐 <b>Connected At:</b> %s\n", ev.At.Format("2006-01-02 15:04:05")))
	if !downSince.IsZero() {
		sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n", formatDuration(ev.At.Sub(downSince))))
	}
	sb.WriteString("\n🟢 <b>Status:</b> SENSOR ONLINE")
	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
