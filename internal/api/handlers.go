package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/benmeehan/debloat-agent/internal/bridge"
	"github.com/benmeehan/debloat-agent/internal/constants"
	"github.com/benmeehan/debloat-agent/internal/storage"
	"github.com/gin-gonic/gin"
)

func queryBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.Query(key))
	return v
}

func (s *Server) listDevices(c *gin.Context) {
	list, err := s.deps.Devices.ListDevices(c.Request.Context(), queryBool(c, "refresh"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) deviceInfo(c *gin.Context) {
	info, err := s.deps.Devices.DeviceInfo(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// streamPackages starts an enumeration. Results arrive as events.
func (s *Server) streamPackages(c *gin.Context) {
	if err := s.deps.Packages.StartStream(c.Request.Context(), queryBool(c, "force")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

func (s *Server) listPackages(c *gin.Context) {
	records, err := s.deps.Packages.ListPackages(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) cachedPackages(c *gin.Context) {
	records, err := s.deps.Packages.CachedPackages(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) cacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Packages.CacheStatus())
}

func (s *Server) clearPackageCache(c *gin.Context) {
	s.deps.Packages.ClearCache()
	c.Status(http.StatusNoContent)
}

// uninstall answers 200 even when the device refuses; the result carries
// success=false and the device's message.
func (s *Server) uninstall(c *gin.Context) {
	res, err := s.deps.Packages.Uninstall(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) reinstall(c *gin.Context) {
	res, err := s.deps.Packages.Reinstall(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) catalogAll(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Catalog.All())
}

func (s *Server) catalogEntry(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Catalog.Describe(c.Param("name")))
}

func (s *Server) collectHealth(c *gin.Context) {
	snapshot, err := s.deps.Health.Collect(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type monitorRequest struct {
	IntervalMs int64 `json:"intervalMs"`
}

type monitorResponse struct {
	Running    bool  `json:"running"`
	IntervalMs int64 `json:"intervalMs,omitempty"`
}

// startMonitor (re)starts background health polling. An empty body uses
// the default interval.
func (s *Server) startMonitor(c *gin.Context) {
	var req monitorRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid monitor request: "+err.Error())
			return
		}
	}
	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if req.IntervalMs == 0 {
		interval = constants.DefaultMonitorInterval
	}
	interval = s.deps.Health.StartMonitor(interval)
	c.JSON(http.StatusOK, monitorResponse{Running: true, IntervalMs: interval.Milliseconds()})
}

func (s *Server) stopMonitor(c *gin.Context) {
	s.deps.Health.StopMonitor()
	c.JSON(http.StatusOK, monitorResponse{Running: false})
}

func (s *Server) clearHealthCache(c *gin.Context) {
	s.deps.Health.ClearCache()
	c.Status(http.StatusNoContent)
}

func (s *Server) listBackups(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	list, err := s.deps.Backups.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type createBackupRequest struct {
	Packages []string `json:"packages" binding:"required"`
}

func (s *Server) createBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	var req createBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid backup request: "+err.Error())
		return
	}
	res, err := s.deps.Backups.Create(c.Request.Context(), req.Packages)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type importBackupRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) importBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	var req importBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid import request: "+err.Error())
		return
	}
	info, err := s.deps.Backups.Import(c.Request.Context(), req.URL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) loadBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	data, err := s.deps.Backups.Load(c.Param("file"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) restoreBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	res, err := s.deps.Backups.Restore(c.Request.Context(), c.Param("file"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) deleteBackup(c *gin.Context) {
	if s.deps.Backups == nil {
		fail(c, errUnavailable)
		return
	}
	if err := s.deps.Backups.Delete(c.Request.Context(), c.Param("file")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listHistory(c *gin.Context) {
	if s.deps.History == nil {
		fail(c, errUnavailable)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.deps.History.List(c.Request.Context(), storage.HistoryFilter{
		PackageName:  c.Query("package"),
		DeviceSerial: c.Query("device"),
		Action:       c.Query("action"),
		Limit:        limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

type versionResponse struct {
	Raw       string `json:"raw"`
	Version   string `json:"version,omitempty"`
	Supported bool   `json:"supported"`
}

func (s *Server) bridgeVersion(c *gin.Context) {
	if s.deps.Server == nil {
		fail(c, errUnavailable)
		return
	}
	info, ok, err := s.deps.Server.CheckVersion(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse{Raw: info.Raw, Version: info.Version.String(), Supported: ok})
}

func (s *Server) startBridge(c *gin.Context) {
	s.controlBridge(c, (*bridge.ServerControl).StartServer)
}

func (s *Server) killBridge(c *gin.Context) {
	s.controlBridge(c, (*bridge.ServerControl).KillServer)
}

func (s *Server) restartBridge(c *gin.Context) {
	s.controlBridge(c, (*bridge.ServerControl).RestartServer)
}

// controlBridge runs a server command and drops the device list, which the
// command may have changed.
func (s *Server) controlBridge(c *gin.Context, op func(*bridge.ServerControl, context.Context) error) {
	if s.deps.Server == nil {
		fail(c, errUnavailable)
		return
	}
	if err := op(s.deps.Server, c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.deps.Devices.Invalidate()
	c.Status(http.StatusNoContent)
}

type endpointRequest struct {
	IP   string `json:"ip" binding:"required"`
	Port int    `json:"port"`
}

type endpointResponse struct {
	Output string `json:"output"`
}

func (s *Server) connectDevice(c *gin.Context) {
	s.tcpDevice(c, (*bridge.ServerControl).Connect)
}

func (s *Server) disconnectDevice(c *gin.Context) {
	s.tcpDevice(c, (*bridge.ServerControl).Disconnect)
}

func (s *Server) tcpDevice(c *gin.Context, op func(*bridge.ServerControl, context.Context, string, int) (string, error)) {
	if s.deps.Server == nil {
		fail(c, errUnavailable)
		return
	}
	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Port == 0 {
		req.Port = constants.DefaultTCPPort
	}
	out, err := op(s.deps.Server, c.Request.Context(), req.IP, req.Port)
	if err != nil {
		fail(c, err)
		return
	}
	s.deps.Devices.Invalidate()
	c.JSON(http.StatusOK, endpointResponse{Output: out})
}

func (s *Server) deviceProperties(c *gin.Context) {
	if s.deps.Server == nil {
		fail(c, errUnavailable)
		return
	}
	serial, err := s.deps.Devices.DefaultSerial(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	props, err := s.deps.Server.Properties(c.Request.Context(), serial)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}
