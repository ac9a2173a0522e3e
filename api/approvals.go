/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/pigwatch/pigwatch/api/model"
)

// ListApprovals returns waiting rows together with their approval tokens.
func (a Api) ListApprovals(c *gin.Context) {
	notifType, limit, err := model2.ParseApprovalQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	resp, err := a.pigwatch.ListApprovals(c.Request.Context(), notifType, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model2.ToApprovalViews(resp))
}

func (a Api) DecideApproval(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	var req model2.DecideApproval
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateDecideApproval(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.pigwatch.DecideApproval(c.Request.Context(), id, req.Token, req.Status(), req.DecidedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) SetExternalRef(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	var req model2.ExternalRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateExternalRef(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := a.pigwatch.SetExternalRef(c.Request.Context(), id, req.ExternalRefID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "external_ref_id": req.ExternalRefID})
}
