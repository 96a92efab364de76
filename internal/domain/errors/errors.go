package errors

import "errors"

var (
	ErrUserNotFound       = errors.New("пользователь не найден")
	ErrInvalidCredentials = errors.New("неверные учетные данные")
	ErrUserAlreadyExists  = errors.New("пользователь уже существует")
	ErrEmailAlreadyExists = errors.New("email уже используется")
	ErrInvalidInput       = errors.New("некорректные входные данные")
	ErrDatabaseConnection = errors.New("ошибка соединения с базой данных")
	ErrValidationFailed   = errors.New("ошибка валидации")
	ErrUnauthorized       = errors.New("нет доступа")
	ErrForbidden          = errors.New("доступ запрещён")
	ErrInternalServer     = errors.New("внутренняя ошибка сервера")
	ErrBadRequest         = errors.New("неверный запрос")
	ErrNotFound           = errors.New("ресурс не найден")
	ErrConflict           = errors.New("конфликт ресурса")
	ErrInvalidToken       = errors.New("недействительный токен")

	ErrInvalidGzipRequest    = errors.New("некорректное gzip-тело запроса")
	ErrGzipCompressionFailed = errors.New("ошибка сжатия ответа")

	ErrConfigFileReadFailed = errors.New("не удалось прочитать файл конфигурации")
	ErrConfigParseFailed    = errors.New("не удалось разобрать файл конфигурации")
	ErrConfigInvalidFormat  = errors.New("некорректное значение конфигурации")

	ErrInvalidUsername    = errors.New("некорректное имя пользователя")
	ErrInvalidEmail       = errors.New("некорректный email")
	ErrInvalidPassword    = errors.New("некорректный пароль")
	ErrInvalidFullName    = errors.New("некорректное полное имя")
	ErrInvalidTitle       = errors.New("некорректный заголовок задачи")
	ErrInvalidDescription = errors.New("некорректное описание задачи")
	ErrInvalidPriority    = errors.New("недопустимый приоритет задачи")
	ErrInvalidDeadline    = errors.New("некорректный срок выполнения задачи")
	ErrDeadlineInPast     = errors.New("срок выполнения задачи не может быть в прошлом")
	ErrInvalidLabel       = errors.New("недопустимая метка задачи")
)
