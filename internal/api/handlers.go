package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/mpineda/dosewatch/internal/errors"
	"github.com/mpineda/dosewatch/internal/store"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	if s.config.Security.JWTSecret == "" {
		return c.Status(400).JSON(fiber.Map{"error": "authentication not configured"})
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		req.UserID = defaultUserID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.UserID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(7 * 24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString})
}

// ==================== Medications ====================

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	userID := c.Query("user_id", requestUser(c))
	activeOnly := c.QueryBool("active", false)

	meds, err := s.store.ListMedications(userID, activeOnly)
	if err != nil {
		s.logger.Error("Failed to list medications", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
	}
	return c.JSON(meds)
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req struct {
		UserID       string `json:"user_id"`
		Name         string `json:"name"`
		Dosage       string `json:"dosage"`
		Instructions string `json:"instructions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name is required"})
	}
	if req.UserID == "" {
		req.UserID = requestUser(c)
	}

	med := &store.Medication{
		UserID:       req.UserID,
		Name:         req.Name,
		Dosage:       req.Dosage,
		Instructions: req.Instructions,
		Active:       true,
	}
	if err := s.store.CreateMedication(med); err != nil {
		s.logger.Error("Failed to create medication", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to create medication"})
	}
	return c.Status(201).JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to get medication"})
	}
	if med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}
	return c.JSON(med)
}

func (s *Server) handleDeleteMedication(c *fiber.Ctx) error {
	if err := s.store.DeleteMedication(c.Params("id")); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete medication"})
	}
	return c.SendStatus(204)
}

// ==================== Schedules ====================

func (s *Server) handleListSchedules(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil || med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}

	scheds, err := s.store.ListActiveSchedules(med.UserID, med.ID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list schedules"})
	}
	return c.JSON(scheds)
}

func (s *Server) handleCreateSchedule(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil || med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}

	var req struct {
		TimeOfDay  string `json:"time_of_day"`
		DaysOfWeek []int  `json:"days_of_week"`
		// LegacyWeekdays marks days_of_week as 0-indexed (0=Sunday);
		// conversion to ISO happens once, at this boundary.
		LegacyWeekdays bool                       `json:"legacy_weekdays"`
		CronExpr       string                     `json:"cron_expr"`
		Timezone       string                     `json:"timezone"`
		Settings       store.NotificationSettings `json:"settings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	if req.CronExpr != "" {
		sched, err := s.store.CreateScheduleFromCron(med.UserID, med.ID, req.CronExpr, req.Timezone, req.Settings)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(sched)
	}

	sched := &store.ReminderSchedule{
		UserID:       med.UserID,
		MedicationID: med.ID,
		TimeOfDay:    req.TimeOfDay,
		DaysOfWeek:   req.DaysOfWeek,
		Timezone:     req.Timezone,
		Active:       true,
		Settings:     req.Settings,
	}
	if err := s.store.CreateSchedule(sched, req.LegacyWeekdays); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(201).JSON(sched)
}

func (s *Server) handleDeleteSchedule(c *fiber.Ctx) error {
	if err := s.store.DeactivateSchedule(c.Params("id")); err != nil {
		if errors.Is(err, apperrors.ErrScheduleNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "schedule not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to delete schedule"})
	}
	return c.SendStatus(204)
}

// ==================== Dose operations ====================

func (s *Server) handleNextDose(c *fiber.Ctx) error {
	info, err := s.scheduler.NextDoseInfo(c.Params("id"))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrMedNotFound.Code {
			return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
		}
		s.logger.Error("Next dose lookup failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to resolve next dose"})
	}
	return c.JSON(info)
}

func (s *Server) handleMarkTaken(c *fiber.Ctx) error {
	if err := s.scheduler.MarkTaken(c.Params("id")); err != nil {
		return s.doseActionError(c, err)
	}
	return c.JSON(fiber.Map{"status": "taken"})
}

func (s *Server) handleSnooze(c *fiber.Ctx) error {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if err := s.scheduler.Snooze(c.Params("id"), req.Minutes); err != nil {
		if apperrors.GetCode(err) == apperrors.ErrSnoozeLimit.Code {
			return c.Status(409).JSON(fiber.Map{"error": "maximum snoozes reached"})
		}
		return s.doseActionError(c, err)
	}
	return c.JSON(fiber.Map{"status": "snoozed"})
}

func (s *Server) handleSkip(c *fiber.Ctx) error {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if err := s.scheduler.Skip(c.Params("id"), req.Notes); err != nil {
		return s.doseActionError(c, err)
	}
	return c.JSON(fiber.Map{"status": "skipped"})
}

func (s *Server) doseActionError(c *fiber.Ctx, err error) error {
	switch apperrors.GetCode(err) {
	case apperrors.ErrMedNotFound.Code:
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	case apperrors.ErrNoActiveDose.Code:
		return c.Status(409).JSON(fiber.Map{"error": "no reminder is currently active"})
	case apperrors.ErrPersistence.Code:
		return c.Status(502).JSON(fiber.Map{"error": "failed to record dose"})
	default:
		s.logger.Error("Dose action failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "dose action failed"})
	}
}

// ==================== Adherence ====================

func (s *Server) handleAdherence(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to get medication"})
	}
	if med == nil {
		return c.Status(404).JSON(fiber.Map{"error": "medication not found"})
	}

	days := c.QueryInt("days", s.config.Reminders.HistoryDays)

	var loc *time.Location
	if scheds, err := s.store.ListActiveSchedules(med.UserID, med.ID); err == nil && len(scheds) > 0 {
		if l, err := time.LoadLocation(scheds[0].Timezone); err == nil {
			loc = l
		}
	}

	stats, err := s.aggregator.Stats(med.UserID, med.ID, days, loc)
	if err != nil {
		s.logger.Error("Failed to compute adherence", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to compute adherence"})
	}
	return c.JSON(stats)
}

// ==================== Event stream ====================

func (s *Server) handleEventStream(c *websocket.Conn) {
	defer c.Close()

	events := s.scheduler.Subscribe()
	defer s.scheduler.Unsubscribe(events)

	for ev := range events {
		if err := c.WriteJSON(ev); err != nil {
			s.logger.Warn("WebSocket write error", zap.Error(err))
			return
		}
	}
}
