package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/thonexdp/e-serviceflow-sub001/models"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"github.com/thonexdp/e-serviceflow-sub001/workflow"
)

// respondError maps domain sentinel errors to HTTP statuses. Anything not
// recognized is a plain 400 so validation messages reach the client.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrorNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrorAlreadyDeducted):
		status = http.StatusConflict
	case errors.Is(err, models.ErrorInvalidTransition),
		errors.Is(err, models.ErrorTerminalState),
		errors.Is(err, models.ErrorInvalidStep),
		errors.Is(err, models.ErrorQuantityExceeded),
		errors.Is(err, models.ErrorStepIncomplete):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// requireAuth rejects requests that carry no resolved user identity.
func requireAuth(c *gin.Context) bool {
	if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	user, err := models.VerifyUserCredentials(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func createUserHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	capability, err := workflow.ResolveCapability(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if capability.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admin may create users"})
		return
	}
	var input models.NewUser
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	user, err := models.CreateUser(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func createTicketHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewTicket
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	ticket, err := models.CreateTicket(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

func getTicketHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	ticket, err := models.GetTicket(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func listTicketsHandler(c *gin.Context) {
	var status *models.TicketStatus
	if s := c.Query("status"); s != "" {
		v := models.TicketStatus(s)
		status = &v
	}
	tickets, err := models.GetTickets(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

type designStatusRequest struct {
	DesignStatus models.DesignStatus `json:"design_status" binding:"required"`
}

func designStatusHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req designStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	ticket, err := models.UpdateDesignStatus(c.Request.Context(), id, req.DesignStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func cancelTicketHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	ticket, err := models.CancelTicket(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func assignTicketHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewTicketAssignment
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	assignment, err := models.AssignUserToTicket(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func startProductionHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	ticket, err := workflow.StartProduction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func postProgressHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input workflow.ProgressInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	result, err := workflow.PostProgress(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type advanceRequest struct {
	Force bool `json:"force"`
}

func advanceWorkflowHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req advanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	ticket, err := workflow.AdvanceWorkflow(c.Request.Context(), id, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func deductMaterialsHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input workflow.DeductionInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	consumptions, err := workflow.DeductMaterials(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, consumptions)
}

func materialEstimateHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	estimates, err := workflow.EstimateMaterials(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimates)
}

func ticketRecordsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	records, err := models.GetProductionRecords(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func ticketEvidenceHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	evidence, err := models.GetTicketEvidence(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evidence)
}

func ticketConsumptionsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	consumptions, err := models.GetTicketConsumptions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, consumptions)
}

func createStockItemHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewStockItem
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	item, err := models.CreateStockItem(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func listStockItemsHandler(c *gin.Context) {
	items, err := models.GetStockItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func lowStockItemsHandler(c *gin.Context) {
	items, err := models.GetLowStockItems(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func getStockItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	item, err := models.GetStockItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func stockMovementsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	movements, err := models.GetStockMovements(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func stockAdjustmentHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	capability, err := workflow.ResolveCapability(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if err := capability.CheckCanDeduct(); err != nil {
		respondError(c, err)
		return
	}
	var input models.NewStockAdjustment
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	movement, err := models.CreateStockAdjustment(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func createPurchaseOrderHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewPurchaseOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

func listPurchaseOrdersHandler(c *gin.Context) {
	orders, err := models.GetPurchaseOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	po, err := models.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

type poStatusRequest struct {
	Status models.PurchaseOrderStatus `json:"status" binding:"required"`
}

func purchaseOrderStatusHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req poStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	po, err := models.UpdateStatusPurchaseOrder(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

type receiveRequest struct {
	Lines []models.ReceiveLine `json:"lines" binding:"required"`
}

func receivePurchaseOrderHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	po, err := models.ReceivePurchaseOrder(c.Request.Context(), id, req.Lines)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func createJobTypeHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewJobType
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	jobType, err := models.CreateJobType(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobType)
}

func listJobTypesHandler(c *gin.Context) {
	jobTypes, err := models.GetJobTypes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobTypes)
}

func getJobTypeHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	jobType, err := models.GetJobType(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobType)
}

func createCustomerHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewCustomer
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func listCustomersHandler(c *gin.Context) {
	customers, err := models.GetCustomers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func createBranchHandler(c *gin.Context) {
	if !requireAuth(c) {
		return
	}
	var input models.NewBranch
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
		return
	}
	branch, err := models.CreateBranch(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func listBranchesHandler(c *gin.Context) {
	branches, err := models.GetBranches(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, branches)
}

func listHistoriesHandler(c *gin.Context) {
	var referenceId *int
	if v := c.Query("reference_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			referenceId = &n
		}
	}
	var referenceType *string
	if v := c.Query("reference_type"); v != "" {
		referenceType = &v
	}
	var userId *int
	if v := c.Query("user_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			userId = &n
		}
	}
	histories, err := models.GetHistories(c.Request.Context(), referenceId, referenceType, userId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}
