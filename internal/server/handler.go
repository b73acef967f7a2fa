package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/masayosh4/lets-chat/internal/access"
	"github.com/masayosh4/lets-chat/internal/auth"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/service"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	roomSvc    *service.RoomService
	msgSvc     *service.MessageService
	fileSvc    *service.FileService
	userMsgSvc *service.UserMessageService
	accountSvc *service.AccountService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService,
	fileSvc *service.FileService, userMsgSvc *service.UserMessageService, accountSvc *service.AccountService) *Handler {
	return &Handler{
		userSvc:    userSvc,
		roomSvc:    roomSvc,
		msgSvc:     msgSvc,
		fileSvc:    fileSvc,
		userMsgSvc: userMsgSvc,
		accountSvc: accountSvc,
	}
}

// fail 把业务错误映射为 HTTP 状态码。
func fail(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRoomArchived):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDuplicateUsername), errors.Is(err, service.ErrActiveSessionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg(logMsg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=2,max=64"`
		Password string `json:"password" binding:"required,min=4,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	result, err := h.userSvc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Slug         string `json:"slug" binding:"required,roomslug,max=64"`
		Name         string `json:"name" binding:"required,max=128"`
		Description  string `json:"description"`
		Private      bool   `json:"private"`
		Password     string `json:"password"`
		Participants []uint `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), service.CreateRoomInput{
		OwnerID:      auth.GetUserID(c),
		Slug:         req.Slug,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Private:      req.Private,
		Password:     req.Password,
		Participants: req.Participants,
	})
	if err != nil {
		fail(c, err, "create room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "slug": room.Slug, "name": room.Name})
}

// UpdateRoom 处理修改房间请求，slug 不可改。
func (h *Handler) UpdateRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name         string  `json:"name" binding:"omitempty,max=128"`
		Description  string  `json:"description"`
		Password     *string `json:"password"`
		Participants []uint  `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.Update(c.Request.Context(), roomID, service.UpdateRoomInput{
		UserID:       auth.GetUserID(c),
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Password:     req.Password,
		Participants: req.Participants,
	})
	if err != nil {
		fail(c, err, "update room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "slug": room.Slug, "name": room.Name})
}

// ArchiveRoom 处理归档房间请求，归档不可逆。
func (h *Handler) ArchiveRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	room, err := h.roomSvc.Archive(c.Request.Context(), roomID, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "archive room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "archived": room.Archived})
}

// JoinRoom 处理进入房间请求，密码房间校验密码并按配置持久化成员。
func (h *Handler) JoinRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	// 公开房间允许空 body。
	_ = c.ShouldBindJSON(&req)
	room, res, err := h.roomSvc.Join(c.Request.Context(), roomID, access.JoinRequest{
		UserID:   auth.GetUserID(c),
		Password: req.Password,
	})
	if err != nil {
		fail(c, err, "join room")
		return
	}
	if !res.Authorized {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "slug": room.Slug, "name": room.Name, "new_member": res.NewMember})
}

// ListRooms 处理获取房间列表请求。
func (h *Handler) ListRooms(c *gin.Context) {
	skip, _ := strconv.Atoi(c.Query("skip"))
	take, _ := strconv.Atoi(c.Query("take"))
	rooms, err := h.roomSvc.List(c.Request.Context(), auth.GetUserID(c), service.RoomListOptions{
		Skip:      skip,
		Take:      take,
		Reverse:   c.Query("reverse") != "false",
		WithUsers: c.Query("users") == "true",
	})
	if err != nil {
		fail(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom 处理按 ID 或 slug 获取单个房间。
func (h *Handler) GetRoom(c *gin.Context) {
	idStr := c.Param("id")
	var room *models.Room
	if id64, err := strconv.ParseUint(idStr, 10, 64); err == nil && id64 > 0 {
		room, err = h.roomSvc.Get(c.Request.Context(), uint(id64))
		if err != nil {
			fail(c, err, "get room")
			return
		}
	} else {
		var err error
		room, err = h.roomSvc.BySlug(c.Request.Context(), idStr)
		if err != nil {
			fail(c, err, "get room by slug")
			return
		}
	}
	users := []uint{}
	if access.IsAuthorized(room, auth.GetUserID(c)) {
		users = h.roomSvc.UsersOnline(room)
	}
	c.JSON(http.StatusOK, gin.H{
		"id": room.ID, "slug": room.Slug, "name": room.Name,
		"description": room.Description, "private": room.Private,
		"has_password": room.HasPassword(), "owner_id": room.OwnerID,
		"last_active": room.LastActive, "users": users,
	})
}

// CreateMessage 处理 REST 发消息请求。
func (h *Handler) CreateMessage(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgSvc.Create(c.Request.Context(), roomID, auth.GetUserID(c), req.Text)
	if err != nil {
		fail(c, err, "create message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": msg.ID, "room_id": msg.RoomID, "posted": msg.Posted})
}

// ListMessages 处理获取房间消息列表请求。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.msgSvc.List(c.Request.Context(), roomID, requester(c), listOptions(c))
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// UploadFile 处理文件上传，multipart 表单的 file 字段。
func (h *Handler) UploadFile(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	file, err := h.fileSvc.Create(c.Request.Context(), service.CreateFileInput{
		RoomID:  roomID,
		OwnerID: auth.GetUserID(c),
		Name:    fh.Filename,
		Type:    fh.Header.Get("Content-Type"),
		Size:    fh.Size,
		Content: f,
		Post:    c.Query("post") == "true",
	})
	if err != nil {
		fail(c, err, "upload file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": file.ID, "name": file.Name, "url": file.URL(), "uploaded": file.Uploaded})
}

// ListFiles 处理获取房间文件列表请求。
func (h *Handler) ListFiles(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	files, err := h.fileSvc.List(c.Request.Context(), roomID, requester(c), listOptions(c))
	if err != nil {
		fail(c, err, "list files")
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// CreateUserMessage 处理发送私聊消息请求。
func (h *Handler) CreateUserMessage(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.userMsgSvc.Create(c.Request.Context(), auth.GetUserID(c), otherID, req.Text)
	if err != nil {
		fail(c, err, "create user message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": msg.ID, "receiver_id": msg.ReceiverID, "posted": msg.Posted})
}

// ListUserMessages 处理获取与某用户私聊记录的请求。
func (h *Handler) ListUserMessages(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.userMsgSvc.List(c.Request.Context(), auth.GetUserID(c), otherID, listOptions(c))
	if err != nil {
		fail(c, err, "list user messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// UpdateAccount 处理修改账户资料请求。
func (h *Handler) UpdateAccount(c *gin.Context) {
	var req struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		DisplayName string `json:"display_name" binding:"omitempty,max=128"`
		Email       string `json:"email" binding:"omitempty,email"`
		Username    string `json:"username" binding:"omitempty,min=2,max=64"`
		Password    string `json:"password" binding:"omitempty,min=4,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.accountSvc.Update(c.Request.Context(), auth.GetUserID(c), service.UpdateAccountInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Username:    strings.TrimSpace(req.Username),
		Password:    req.Password,
	})
	if err != nil {
		fail(c, err, "update account")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username, "display_name": user.DisplayName})
}

// GenerateToken 签发 API token，明文只返回这一次。
func (h *Handler) GenerateToken(c *gin.Context) {
	token, err := h.accountSvc.GenerateToken(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RevokeToken 吊销已签发的 API token。
func (h *Handler) RevokeToken(c *gin.Context) {
	if err := h.accountSvc.RevokeToken(c.Request.Context(), auth.GetUserID(c)); err != nil {
		fail(c, err, "revoke token")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUsers 处理获取用户列表请求。
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List(c.Request.Context(), listOptions(c))
	if err != nil {
		fail(c, err, "list users")
		return
	}
	type userDTO struct {
		ID          uint   `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// pathID 解析路径里的数字 ID 参数。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// requester 从请求上下文组装列表接口的请求者身份。
func requester(c *gin.Context) service.Requester {
	return service.Requester{UserID: auth.GetUserID(c), Password: c.Query("password")}
}

// listOptions 解析列表接口通用的筛选与分页参数。
func listOptions(c *gin.Context) service.ListOptions {
	opts := service.NewListOptions()
	if v, err := strconv.Atoi(c.Query("take")); err == nil {
		opts.Take = v
	}
	if v, err := strconv.Atoi(c.Query("skip")); err == nil {
		opts.Skip = v
	}
	if v, err := strconv.ParseUint(c.Query("since_id"), 10, 64); err == nil {
		opts.SinceID = uint(v)
	}
	if v, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		opts.From = v
	}
	if v, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		opts.To = v
	}
	opts.Query = c.Query("query")
	if c.Query("reverse") == "false" {
		opts.Reverse = false
	}
	return opts
}
