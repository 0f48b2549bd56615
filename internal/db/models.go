package db

type Task struct {
	TaskID      string `gorm:"column:task_id;primaryKey"`
	OwnerID     string `gorm:"column:owner_id;not null;index"`
	Title       string `gorm:"column:title;not null;default:''"`
	Description string `gorm:"column:description;not null;default:''"`
	Status      string `gorm:"column:status;not null;default:'pending'"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
	CompletedAt int64  `gorm:"column:completed_at;not null;default:0"`
	UpdatedAt   int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Task) TableName() string { return "tasks" }

type Conversation struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID   string `gorm:"column:owner_id;not null;index"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID int64  `gorm:"column:conversation_id;not null;index"`
	OwnerID        string `gorm:"column:owner_id;not null"`
	Role           string `gorm:"column:role;not null;default:''"`
	Content        string `gorm:"column:content;not null;default:''"`
	ToolCallsJSON  string `gorm:"column:tool_calls_json;not null;default:''"`
	CreatedAt      int64  `gorm:"column:created_at;not null;default:0"`
}

func (Message) TableName() string { return "messages" }
