package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func MonitorRoutes(r *gin.RouterGroup, deps *Deps) {
	r.POST("/devices/:id/monitor/start", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if err := deps.Supervisor.Start(*device); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "monitoring", "device_id": device.ID})
	})

	r.POST("/devices/:id/monitor/stop", func(c *gin.Context) {
		deviceID, err := deviceIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		stopped := deps.Supervisor.Stop(deviceID)
		c.JSON(http.StatusOK, gin.H{"stopped": stopped, "device_id": deviceID})
	})

	r.POST("/devices/:id/monitor/trigger", func(c *gin.Context) {
		deviceID, err := deviceIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if !deps.Supervisor.Trigger(deviceID) {
			AbortWithError(c, NewHTTPError(http.StatusConflict, nil, "Device is not being monitored"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "device_id": deviceID})
	})

	r.GET("/devices/:id/monitor", func(c *gin.Context) {
		deviceID, err := deviceIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"device_id":  deviceID,
			"monitoring": deps.Supervisor.Monitoring(deviceID),
		})
	})

	r.POST("/logs/resend", func(c *gin.Context) {
		if !deps.Forwarder.Enabled() {
			AbortWithError(c, ErrDeliveryDisabled)
			return
		}

		outcome, err := deps.Forwarder.ResendPending(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sent":   outcome.Sent,
			"failed": outcome.Failed,
		})
	})
}
