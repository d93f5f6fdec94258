package enums

// AdminActionType maps to the admin_action_type_enum enum in Postgres.
type AdminActionType string

const (
	AdminActionAdjustCredits  AdminActionType = "adjust_credits"
	AdminActionBan            AdminActionType = "ban"
	AdminActionUnban          AdminActionType = "unban"
	AdminActionUpdateSettings AdminActionType = "update_settings"
	AdminActionRequeueEvent   AdminActionType = "requeue_event"
	AdminActionDeleteImage    AdminActionType = "delete_image"
)
