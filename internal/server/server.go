package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"

	"todoapi/internal/auth"
	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

type AccountRepository interface {
	CreateAccount(ctx context.Context, req *models.RegisterRequest) (*models.Account, error)
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context, skip, limit int, isActive *bool) ([]models.Account, error)
	UpdateAccount(ctx context.Context, id string, patch *models.UpdateAccountRequest) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	SetAccountActive(ctx context.Context, id string, active bool) (*models.Account, error)
	CountAccounts(ctx context.Context, isActive *bool) (int, error)
	Authenticate(ctx context.Context, username, password string) (*models.Account, error)
}

type TodoRepository interface {
	CreateTodo(ctx context.Context, req *models.CreateTodoRequest) (*models.Todo, error)
	GetTodoByID(ctx context.Context, id string) (*models.Todo, error)
	ListTodos(ctx context.Context, skip, limit int, completed *bool, priority string) ([]models.Todo, error)
	ListTodosByUsername(ctx context.Context, username string, skip, limit int, completed *bool, priority string) ([]models.Todo, error)
	UpdateTodo(ctx context.Context, id string, patch *models.UpdateTodoRequest) (*models.Todo, error)
	DeleteTodo(ctx context.Context, id string) error
	SearchTodos(ctx context.Context, query, username string, skip, limit int) ([]models.Todo, error)
	CountTodos(ctx context.Context, completed *bool) (int, error)
	CountTodosByUsername(ctx context.Context, username string, completed *bool) (int, error)
}

type TodoAPI struct {
	httpSrv  *http.Server
	accounts AccountRepository
	todos    TodoRepository
	tokens   *auth.TokenService
	resolver *auth.Resolver
}

func NewTodoAPI(accounts AccountRepository, todos TodoRepository, cfg *Config) *TodoAPI {
	if accounts == nil || todos == nil || cfg == nil {
		return nil
	}

	tokens := auth.NewTokenService(cfg.Secret, time.Duration(cfg.TokenTTLMin)*time.Minute)

	api := TodoAPI{
		httpSrv: &http.Server{
			Addr: fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port),
		},
		accounts: accounts,
		todos:    todos,
		tokens:   tokens,
		resolver: auth.NewResolver(tokens, accounts),
	}

	api.configRoutes()

	return &api
}

func (api *TodoAPI) Start() error {
	if api.httpSrv == nil {
		return errors.ErrInternalServer
	}

	if api.httpSrv.Addr == "" {
		api.httpSrv.Addr = ":8080"
	}

	log.Println("[SUCCESS] Сервер запускается на", api.httpSrv.Addr)
	return api.httpSrv.ListenAndServe()
}

func (api *TodoAPI) Shutdown(ctx context.Context) error {
	if api.httpSrv == nil {
		return nil
	}
	return api.httpSrv.Shutdown(ctx)
}

func (api *TodoAPI) configRoutes() {
	router := gin.Default()

	router.Use(GzipRequestDecompress())
	router.Use(GzipResponseCompress())

	router.NoMethod(func(ctx *gin.Context) {
		ctx.JSON(http.StatusMethodNotAllowed, gin.H{"error": "использован некорректный HTTP-метод"})
	})

	router.GET("/health", OptionalAuth(api.resolver), api.health)

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", api.register)
		authGroup.POST("/login", api.login)
		authGroup.POST("/refresh", RequireAuth(api.resolver), api.refresh)
		authGroup.GET("/me", RequireAuth(api.resolver), api.me)
	}

	users := v1.Group("/users", RequireAuth(api.resolver))
	{
		users.GET("", api.listUsers)
		users.GET("/count", api.countUsers)
		users.GET("/:userID", api.getUser)
		users.PUT("/:userID", api.updateUser)
		users.DELETE("/:userID", api.deleteUser)
		users.PATCH("/:userID/activate", api.activateUser)
		users.PATCH("/:userID/deactivate", api.deactivateUser)
	}

	todos := v1.Group("/todos", RequireAuth(api.resolver))
	{
		todos.POST("", api.createTodo)
		todos.GET("", api.listTodos)
		todos.GET("/search", api.searchTodos)
		todos.GET("/count", api.countTodos)
		todos.GET("/:todoID", api.getTodo)
		todos.PUT("/:todoID", api.updateTodo)
		todos.DELETE("/:todoID", api.deleteTodo)
		todos.PATCH("/:todoID/complete", api.completeTodo)
		todos.PATCH("/:todoID/incomplete", api.incompleteTodo)
	}

	api.httpSrv.Handler = router
}

func (api *TodoAPI) health(ctx *gin.Context) {
	resp := gin.H{"status": "ok"}
	if account := currentAccount(ctx); account != nil {
		resp["username"] = account.Username
	}
	ctx.JSON(http.StatusOK, resp)
}

func (api *TodoAPI) register(ctx *gin.Context) {
	var req models.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "некорректные данные пользователя"})
		return
	}

	valid := validator.New()
	if err := valid.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationErrorToErrorResponse(err).Error()})
		return
	}
	if err := models.ValidateUsername(req.Username); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.ValidatePassword(req.Password); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := api.accounts.CreateAccount(ctx.Request.Context(), &req)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "пользователь успешно создан",
		"user":    account,
	})
}

func (api *TodoAPI) login(ctx *gin.Context) {
	var req models.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "некорректные данные запроса"})
		return
	}

	valid := validator.New()
	if err := valid.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "ошибка валидации", "details": err.Error()})
		return
	}

	account, err := api.accounts.Authenticate(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": errors.ErrInvalidCredentials.Error()})
		return
	}

	token, err := api.tokens.Issue(account.Username)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}

	ctx.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// refresh re-issues a token for the current caller. Validation stays
// stateless, so the old token remains usable until its own expiry.
func (api *TodoAPI) refresh(ctx *gin.Context) {
	caller := currentAccount(ctx)

	token, err := api.tokens.Issue(caller.Username)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}

	ctx.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

func (api *TodoAPI) me(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"user": currentAccount(ctx)})
}

func (api *TodoAPI) listUsers(ctx *gin.Context) {
	if err := auth.RequireSuperuser(currentAccount(ctx)); err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	skip := queryInt(ctx, "skip", 0)
	limit := queryInt(ctx, "limit", 0)
	isActive, err := queryBoolPtr(ctx, "is_active")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}

	accounts, err := api.accounts.ListAccounts(ctx.Request.Context(), skip, limit, isActive)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}

	ctx.JSON(http.StatusOK, gin.H{"users": accounts})
}

func (api *TodoAPI) countUsers(ctx *gin.Context) {
	if err := auth.RequireSuperuser(currentAccount(ctx)); err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	isActive, err := queryBoolPtr(ctx, "is_active")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}

	count, err := api.accounts.CountAccounts(ctx.Request.Context(), isActive)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

func (api *TodoAPI) getUser(ctx *gin.Context) {
	caller := currentAccount(ctx)
	userID := ctx.Param("userID")

	if caller.ID != userID && !caller.IsSuperuser {
		ctx.JSON(http.StatusForbidden, gin.H{"error": errors.ErrForbidden.Error()})
		return
	}

	account, err := api.accounts.GetAccountByID(ctx.Request.Context(), userID)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": account})
}

func (api *TodoAPI) updateUser(ctx *gin.Context) {
	caller := currentAccount(ctx)
	userID := ctx.Param("userID")

	if caller.ID != userID && !caller.IsSuperuser {
		ctx.JSON(http.StatusForbidden, gin.H{"error": errors.ErrForbidden.Error()})
		return
	}

	var req models.UpdateAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "некорректные данные запроса"})
		return
	}

	valid := validator.New()
	if err := valid.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationErrorToErrorResponse(err).Error()})
		return
	}
	if req.IsActive != nil && !caller.IsSuperuser {
		ctx.JSON(http.StatusForbidden, gin.H{"error": errors.ErrForbidden.Error()})
		return
	}
	if req.Password != nil {
		if err := models.ValidatePassword(*req.Password); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	account, err := api.accounts.UpdateAccount(ctx.Request.Context(), userID, &req)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "пользователь успешно обновлен",
		"user":    account,
	})
}

func (api *TodoAPI) deleteUser(ctx *gin.Context) {
	if err := auth.RequireSuperuser(currentAccount(ctx)); err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	if err := api.accounts.DeleteAccount(ctx.Request.Context(), ctx.Param("userID")); err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "пользователь успешно удален"})
}

func (api *TodoAPI) activateUser(ctx *gin.Context) {
	api.setUserActive(ctx, true)
}

func (api *TodoAPI) deactivateUser(ctx *gin.Context) {
	api.setUserActive(ctx, false)
}

func (api *TodoAPI) setUserActive(ctx *gin.Context, active bool) {
	if err := auth.RequireSuperuser(currentAccount(ctx)); err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	account, err := api.accounts.SetAccountActive(ctx.Request.Context(), ctx.Param("userID"), active)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": account})
}

func (api *TodoAPI) createTodo(ctx *gin.Context) {
	caller := currentAccount(ctx)

	var req models.CreateTodoRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}

	valid := validator.New()
	if err := valid.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationErrorToErrorResponse(err).Error()})
		return
	}

	req.Username = caller.Username
	todo, err := api.todos.CreateTodo(ctx.Request.Context(), &req)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"todo": todo})
}

func (api *TodoAPI) listTodos(ctx *gin.Context) {
	caller := currentAccount(ctx)

	skip := queryInt(ctx, "skip", 0)
	limit := queryInt(ctx, "limit", 0)
	completed, err := queryBoolPtr(ctx, "completed")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}
	priority := ctx.Query("priority")
	if priority != "" {
		if err := models.ValidatePriority(priority); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	owner, unscoped, err := api.listScope(ctx, caller)
	if err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	var todos []models.Todo
	if unscoped {
		todos, err = api.todos.ListTodos(ctx.Request.Context(), skip, limit, completed, priority)
	} else {
		todos, err = api.todos.ListTodosByUsername(ctx.Request.Context(), owner, skip, limit, completed, priority)
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}
	if todos == nil {
		todos = []models.Todo{}
	}

	ctx.JSON(http.StatusOK, gin.H{"todos": todos})
}

func (api *TodoAPI) searchTodos(ctx *gin.Context) {
	caller := currentAccount(ctx)

	query := ctx.Query("q")
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "не указан поисковый запрос"})
		return
	}
	skip := queryInt(ctx, "skip", 0)
	limit := queryInt(ctx, "limit", 0)

	owner, unscoped, err := api.listScope(ctx, caller)
	if err != nil {
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	if unscoped {
		owner = ""
	}

	todos, err := api.todos.SearchTodos(ctx.Request.Context(), query, owner, skip, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}
	if todos == nil {
		todos = []models.Todo{}
	}

	ctx.JSON(http.StatusOK, gin.H{"todos": todos})
}

func (api *TodoAPI) countTodos(ctx *gin.Context) {
	caller := currentAccount(ctx)

	completed, err := queryBoolPtr(ctx, "completed")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}

	var count int
	if caller.IsSuperuser {
		count, err = api.todos.CountTodos(ctx.Request.Context(), completed)
	} else {
		count, err = api.todos.CountTodosByUsername(ctx.Request.Context(), caller.Username, completed)
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

func (api *TodoAPI) getTodo(ctx *gin.Context) {
	todo, ok := api.ownedTodo(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"todo": todo})
}

func (api *TodoAPI) updateTodo(ctx *gin.Context) {
	var req models.UpdateTodoRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errors.ErrBadRequest.Error()})
		return
	}

	valid := validator.New()
	if err := valid.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationErrorToErrorResponse(err).Error()})
		return
	}

	todo, ok := api.ownedTodo(ctx)
	if !ok {
		return
	}

	updated, err := api.todos.UpdateTodo(ctx.Request.Context(), todo.ID, &req)
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"todo": updated})
}

func (api *TodoAPI) deleteTodo(ctx *gin.Context) {
	todo, ok := api.ownedTodo(ctx)
	if !ok {
		return
	}

	if err := api.todos.DeleteTodo(ctx.Request.Context(), todo.ID); err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "задача успешно удалена"})
}

func (api *TodoAPI) completeTodo(ctx *gin.Context) {
	api.setTodoCompleted(ctx, true)
}

func (api *TodoAPI) incompleteTodo(ctx *gin.Context) {
	api.setTodoCompleted(ctx, false)
}

func (api *TodoAPI) setTodoCompleted(ctx *gin.Context, completed bool) {
	todo, ok := api.ownedTodo(ctx)
	if !ok {
		return
	}

	updated, err := api.todos.UpdateTodo(ctx.Request.Context(), todo.ID, &models.UpdateTodoRequest{
		Completed: &completed,
	})
	if err != nil {
		writeRepoError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"todo": updated})
}

// ownedTodo loads the todo from the route parameter and enforces ownership.
// On failure it writes the response itself and reports ok=false.
func (api *TodoAPI) ownedTodo(ctx *gin.Context) (*models.Todo, bool) {
	caller := currentAccount(ctx)

	todo, err := api.todos.GetTodoByID(ctx.Request.Context(), ctx.Param("todoID"))
	if err != nil {
		writeRepoError(ctx, err)
		return nil, false
	}
	if todo.Username != caller.Username && !caller.IsSuperuser {
		ctx.JSON(http.StatusForbidden, gin.H{"error": errors.ErrForbidden.Error()})
		return nil, false
	}
	return todo, true
}

// listScope decides whose todos a listing covers. Ordinary callers always get
// their own; a superuser may pass username= or all=true.
func (api *TodoAPI) listScope(ctx *gin.Context, caller *models.Account) (owner string, unscoped bool, err error) {
	username := ctx.Query("username")
	all := ctx.Query("all") == "true"

	if !caller.IsSuperuser {
		if all || (username != "" && username != caller.Username) {
			return "", false, errors.ErrForbidden
		}
		return caller.Username, false, nil
	}

	if all {
		return "", true, nil
	}
	if username != "" {
		return username, false, nil
	}
	return caller.Username, false, nil
}

func writeRepoError(ctx *gin.Context, err error) {
	switch err {
	case errors.ErrUserNotFound:
		ctx.JSON(http.StatusNotFound, gin.H{"error": "пользователь не найден"})
	case errors.ErrNotFound:
		ctx.JSON(http.StatusNotFound, gin.H{"error": "задача не найдена"})
	case errors.ErrUserAlreadyExists, errors.ErrEmailAlreadyExists, errors.ErrConflict:
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.ErrInvalidUsername, errors.ErrInvalidEmail, errors.ErrInvalidPassword,
		errors.ErrInvalidFullName, errors.ErrInvalidTitle, errors.ErrInvalidDescription,
		errors.ErrInvalidPriority, errors.ErrInvalidDeadline, errors.ErrDeadlineInPast,
		errors.ErrInvalidLabel, errors.ErrInvalidInput:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternalServer.Error()})
	}
}

func queryInt(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func queryBoolPtr(ctx *gin.Context, name string) (*bool, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.ErrBadRequest
	}
	return &value, nil
}

func validationErrorToErrorResponse(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, verr := range verrs {
			switch verr.Field() {
			case "Username":
				return errors.ErrInvalidUsername
			case "Email":
				return errors.ErrInvalidEmail
			case "Password":
				return errors.ErrInvalidPassword
			case "FullName":
				return errors.ErrInvalidFullName
			case "Title":
				return errors.ErrInvalidTitle
			case "Description":
				return errors.ErrInvalidDescription
			case "Priority":
				return errors.ErrInvalidPriority
			}
		}
	}
	return errors.ErrValidationFailed
}
