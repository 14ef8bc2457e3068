package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"terminal-log-sync/internal/storage"
)

type registerDeviceRequest struct {
	Name     string `json:"name" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type relayRequest struct {
	RelayID int `json:"relay_id"`
}

func DeviceRoutes(r *gin.RouterGroup, deps *Deps) {
	r.POST("/devices", func(c *gin.Context) {
		var req registerDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, NewHTTPError(http.StatusBadRequest, err, "Invalid device payload"))
			return
		}

		device, err := deps.Registry.Register(c.Request.Context(), storage.Device{
			Name:     req.Name,
			Address:  req.Address,
			Username: req.Username,
			Password: req.Password,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusCreated, device)
	})

	r.GET("/devices", func(c *gin.Context) {
		devices, err := deps.Registry.List(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": devices})
	})

	r.POST("/devices/import", func(c *gin.Context) {
		devices, err := deps.Registry.Import(c.Request.Context(), c.Request.Body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"devices": devices})
	})

	r.GET("/devices/:id", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, device)
	})

	r.DELETE("/devices/:id", func(c *gin.Context) {
		deviceID, err := deviceIDParam(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		// An orphaned worker would keep syncing a deleted device.
		deps.Supervisor.Stop(deviceID)

		if err := deps.Registry.Remove(c.Request.Context(), deviceID); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/devices/:id/login", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if _, err := deps.Keeper.EnsureSession(c.Request.Context(), *device); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "authenticated"})
	})

	r.POST("/devices/:id/logout", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if err := deps.Keeper.Logout(c.Request.Context(), *device); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	})

	r.GET("/devices/:id/session", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"valid": deps.Keeper.IsValid(c.Request.Context(), *device),
		})
	})

	r.GET("/devices/:id/logs", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		var since *int64
		if raw := c.Query("since"); raw != "" {
			value, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				AbortWithError(c, NewHTTPError(http.StatusBadRequest, err, "since must be a unix timestamp"))
				return
			}
			since = &value
		}

		logs, err := deps.Store.ListLogs(c.Request.Context(), device.ID, since)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	})

	r.POST("/devices/:id/control/relay", func(c *gin.Context) {
		device, err := deviceFromParam(c, deps)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		var req relayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, NewHTTPError(http.StatusBadRequest, err, "Invalid relay payload"))
			return
		}

		token, err := deps.Keeper.EnsureSession(c.Request.Context(), *device)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if err := deps.Client.OpenRelay(c.Request.Context(), device.Address, token, req.RelayID); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "opened", "relay_id": req.RelayID})
	})
}

func deviceIDParam(c *gin.Context) (int64, error) {
	deviceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, ErrInvalidDeviceID
	}
	return deviceID, nil
}

func deviceFromParam(c *gin.Context, deps *Deps) (*storage.Device, error) {
	deviceID, err := deviceIDParam(c)
	if err != nil {
		return nil, err
	}
	return deps.Registry.Get(c.Request.Context(), deviceID)
}
