package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/encore/internal/modules/enginemodule"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	Path          string `json:"path" binding:"required"`
	Title         int    `json:"title" binding:"min=0"`
	Previews      int    `json:"previews" binding:"min=0"`
	StorePreviews bool   `json:"store_previews"`
	// MinDuration is a Go duration string such as "10s".
	MinDuration string `json:"min_duration"`
}

// FilterRequest names a filter and its settings.
type FilterRequest struct {
	ID       string `json:"id" binding:"required"`
	Settings string `json:"settings"`
}

// JobRequest is the body of POST /api/jobs. Unset fields keep the title's
// defaults.
type JobRequest struct {
	Title              int             `json:"title" binding:"required,min=1"`
	Destination        string          `json:"destination" binding:"required"`
	Muxer              string          `json:"muxer"`
	Encoder            string          `json:"encoder"`
	Anamorphic         string          `json:"anamorphic"`
	Width              int             `json:"width" binding:"min=0"`
	Height             int             `json:"height" binding:"min=0"`
	MaxWidth           int             `json:"max_width" binding:"min=0"`
	MaxHeight          int             `json:"max_height" binding:"min=0"`
	ChapterStart       int             `json:"chapter_start" binding:"min=0"`
	ChapterEnd         int             `json:"chapter_end" binding:"min=0"`
	TwoPass            bool            `json:"two_pass"`
	ForeignAudioSearch bool            `json:"foreign_audio_search"`
	Filters            []FilterRequest `json:"filters"`
}

func (s *Server) getVersion(c *gin.Context) {
	resp := gin.H{
		"version": s.engine.Version(),
		"build":   s.engine.Build(),
	}
	if build, version := s.engine.CheckUpdate(); build > 0 {
		resp["update"] = gin.H{"build": build, "version": version}
	}
	c.JSON(http.StatusOK, resp)
}

// getState peeks at the state. ?consume=true clears the done events it
// reports.
func (s *Server) getState(c *gin.Context) {
	if consume, _ := strconv.ParseBool(c.Query("consume")); consume {
		c.JSON(http.StatusOK, s.engine.GetState())
		return
	}
	c.JSON(http.StatusOK, s.engine.GetState2())
}

func (s *Server) getInterjob(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Interjob())
}

func (s *Server) listTitles(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.TitleSet())
}

func (s *Server) getTitle(c *gin.Context) {
	index, ok := intParam(c, "title")
	if !ok {
		return
	}
	title, err := s.engine.FindTitleByIndex(index)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, title)
}

// getPreview renders a preview picture as WebP. Query parameters:
// anamorphic (default strict), width, height, deinterlace, quality
// (0 for lossless, default 80).
func (s *Server) getPreview(c *gin.Context) {
	titleIndex, ok := intParam(c, "title")
	if !ok {
		return
	}
	picture, ok := intParam(c, "index")
	if !ok {
		return
	}
	title, err := s.engine.FindTitleByIndex(titleIndex)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}

	geo := types.GeometrySettings{
		Mode:    types.AnamorphicStrict,
		Keep:    types.KeepDisplayAspect,
		Modulus: 2,
		Crop:    title.AutoCrop,
	}
	if m := c.Query("anamorphic"); m != "" {
		mode, ok := types.ParseAnamorphicMode(m)
		if !ok {
			respondWithValidationError(c, "unknown anamorphic mode "+m)
			return
		}
		geo.Mode = mode
	}
	geo.Geometry.Width, _ = strconv.Atoi(c.Query("width"))
	geo.Geometry.Height, _ = strconv.Atoi(c.Query("height"))
	deinterlace, _ := strconv.ParseBool(c.Query("deinterlace"))
	quality, err := strconv.ParseFloat(c.DefaultQuery("quality", "80"), 32)
	if err != nil {
		respondWithValidationError(c, "quality must be a number")
		return
	}

	img, err := s.engine.GetPreview2(c.Request.Context(), titleIndex, picture, geo, deinterlace)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	data, err := enginemodule.EncodePreview(img, float32(quality))
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.Header("X-Preview-Width", strconv.Itoa(img.Geometry.Width))
	c.Header("X-Preview-Height", strconv.Itoa(img.Geometry.Height))
	c.Data(http.StatusOK, "image/webp", data)
}

func (s *Server) startScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithValidationError(c, err.Error())
		return
	}
	var minDuration time.Duration
	if req.MinDuration != "" {
		d, err := time.ParseDuration(req.MinDuration)
		if err != nil {
			respondWithValidationError(c, "invalid min_duration: "+err.Error())
			return
		}
		minDuration = d
	}

	err := s.engine.ScanWith(enginemodule.ScanParams{
		Path:          req.Path,
		TitleIndex:    req.Title,
		Previews:      req.Previews,
		StorePreviews: req.StorePreviews,
		MinDuration:   minDuration,
	})
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func (s *Server) stopScan(c *gin.Context) {
	s.engine.ScanStop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.engine.Jobs()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) addJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithValidationError(c, err.Error())
		return
	}

	job, err := s.engine.JobInitByIndex(req.Title)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	defer enginemodule.JobClose(job)

	job.Destination = req.Destination
	job.TwoPass = req.TwoPass
	job.ForeignAudioSearch = req.ForeignAudioSearch
	if req.Muxer != "" {
		job.Muxer = req.Muxer
	}
	if req.Encoder != "" {
		job.Encoder = req.Encoder
	}
	if req.Anamorphic != "" {
		mode, ok := types.ParseAnamorphicMode(req.Anamorphic)
		if !ok {
			respondWithValidationError(c, "unknown anamorphic mode "+req.Anamorphic)
			return
		}
		job.Geometry.Mode = mode
	}
	if req.Width > 0 {
		job.Geometry.Geometry.Width = req.Width
	}
	if req.Height > 0 {
		job.Geometry.Geometry.Height = req.Height
	}
	if req.ChapterStart > 0 {
		job.ChapterStart = req.ChapterStart
	}
	if req.ChapterEnd > 0 {
		job.ChapterEnd = req.ChapterEnd
	}
	job.Geometry.MaxWidth = req.MaxWidth
	job.Geometry.MaxHeight = req.MaxHeight

	for _, f := range req.Filters {
		if err := s.engine.AddFilter(job, f.ID, f.Settings); err != nil {
			respondWithError(c, s.logger, err)
			return
		}
	}

	id, err := s.engine.Add(job)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "queued": s.engine.Count()})
}

func (s *Server) removeJob(c *gin.Context) {
	if err := s.engine.Rem(c.Param("id")); err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// control adapts a queue control call to a handler.
func (s *Server) control(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			respondWithError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, s.engine.GetState2())
	}
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "history disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		respondWithValidationError(c, "limit must be a positive integer")
		return
	}
	recs, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (s *Server) jobHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "history disabled"})
		return
	}
	recs, err := s.history.ForJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		respondWithValidationError(c, name+" must be an integer")
		return 0, false
	}
	return v, true
}
