package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"terminal-log-sync/internal/attendance"
)

// Dashboard serves the attendance report reconstructed from stored logs.
// Defaults to the current day; an explicit ?since= unix timestamp widens
// the window.
func Dashboard(r *gin.RouterGroup, deps *Deps) {
	r.GET("/", func(c *gin.Context) {
		since := startOfDay(time.Now())
		if raw := c.Query("since"); raw != "" {
			value, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				AbortWithError(c, NewHTTPError(http.StatusBadRequest, err, "since must be a unix timestamp"))
				return
			}
			since = value
		}

		devices, err := deps.Registry.List(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}

		deviceNames := make(map[int64]string, len(devices))
		var records []attendance.Record
		for _, device := range devices {
			deviceNames[device.ID] = device.Name

			logs, err := deps.Store.ListLogs(c.Request.Context(), device.ID, &since)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			for _, entry := range logs {
				// Records without a user, denied attempts included, carry no
				// attendance information.
				if entry.UserID == nil {
					continue
				}
				records = append(records, attendance.Record{
					DeviceID: device.ID,
					UserID:   *entry.UserID,
					Time:     entry.Time,
				})
			}
		}

		report := attendance.Reconstruct(records, deviceNames)
		c.JSON(http.StatusOK, report)
	})
}

func startOfDay(now time.Time) int64 {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Unix()
}
