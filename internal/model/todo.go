package model

import "time"

// Todo is a single item of the todo list
type Todo struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddTodoRequest is the form posted to /add
type AddTodoRequest struct {
	Task string `form:"task" validate:"required,max=500"`
}

// ReorderRequest carries the new order of todo ids
type ReorderRequest struct {
	Order []int64 `json:"order" validate:"required,min=1,dive,min=1"`
}
